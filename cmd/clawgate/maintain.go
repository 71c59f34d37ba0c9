package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/sessions"
)

// runMaintainCommand runs one maintenance pass over the session store
// and prints the report. Useful for cron jobs outside the daemon and
// for inspecting what a sweep would do in warn mode.
func runMaintainCommand(args []string) int {
	fs := flag.NewFlagSet("maintain", flag.ContinueOnError)
	quiet := fs.Bool("q", false, "suppress the report line")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	maint := sessions.ResolveMaintenance(cfg.Session.Maintenance, logger)
	store := sessions.NewStore(cfg.SessionStorePath(), maint, logger)

	report, err := store.Maintain()
	if err != nil {
		fmt.Fprintf(os.Stderr, "maintain: %v\n", err)
		return 1
	}
	if !*quiet {
		fmt.Printf("mode=%s pruned=%d capped=%d rotated=%v\n",
			report.Mode, report.Pruned, report.Capped, report.Rotated)
		if report.Backup != "" {
			fmt.Printf("backup=%s\n", report.Backup)
		}
	}
	return 0
}
