package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit the diagnosis as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cfgPtr *config.Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
	} else {
		cfgPtr = &cfg
	}

	d := doctor.Run(ctx, cfgPtr, Version)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			fmt.Fprintf(os.Stderr, "encode diagnosis: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("clawgate %s on %s/%s (%s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
		for _, r := range d.Results {
			fmt.Printf("  [%s] %-22s %s\n", r.Status, r.Name, r.Message)
			if r.Detail != "" {
				fmt.Printf("         %s\n", r.Detail)
			}
		}
	}

	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return 1
		}
	}
	return 0
}
