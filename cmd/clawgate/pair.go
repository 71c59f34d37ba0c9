package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/pairing"
)

func printPairUsage(out *os.File) {
	fmt.Fprintf(out, `Usage: %s pair <action>

ACTIONS:
  approve <channel> <sender>   Pair a sender directly
  remove <channel> <sender>    Unpair a sender
  redeem <code>                Redeem a pairing code sent to a user
  list <channel>               List paired senders in first-seen order
`, os.Args[0])
}

func runPairCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.Usage = func() { printPairUsage(os.Stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	args = fs.Args()
	if len(args) == 0 {
		printPairUsage(os.Stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	store, err := pairing.Open(cfg.PairingStorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open pairing store: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch args[0] {
	case "approve":
		if len(args) != 3 {
			printPairUsage(os.Stderr)
			return 2
		}
		if err := store.Approve(ctx, args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "approve: %v\n", err)
			return 1
		}
		fmt.Printf("paired %s on %s\n", args[2], args[1])
	case "remove":
		if len(args) != 3 {
			printPairUsage(os.Stderr)
			return 2
		}
		if err := store.Remove(ctx, args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "remove: %v\n", err)
			return 1
		}
		fmt.Printf("unpaired %s on %s\n", args[2], args[1])
	case "redeem":
		if len(args) != 2 {
			printPairUsage(os.Stderr)
			return 2
		}
		channel, sender, err := store.Redeem(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "redeem: %v\n", err)
			return 1
		}
		fmt.Printf("paired %s on %s\n", sender, channel)
	case "list":
		if len(args) != 2 {
			printPairUsage(os.Stderr)
			return 2
		}
		senders, err := store.AllowFrom(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "list: %v\n", err)
			return 1
		}
		for _, sender := range senders {
			fmt.Println(sender)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown pair action %q\n", args[0])
		printPairUsage(os.Stderr)
		return 2
	}
	return 0
}
