package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/clawgate/internal/audit"
	"github.com/basket/clawgate/internal/bus"
	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/dedup"
	"github.com/basket/clawgate/internal/gateway"
	"github.com/basket/clawgate/internal/maintenance"
	otelPkg "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/pairing"
	"github.com/basket/clawgate/internal/sessions"
	"github.com/basket/clawgate/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the gateway daemon

SUBCOMMANDS:
  %s pair <action>            Manage sender pairing
                              Actions: approve, remove, redeem, list
  %s maintain                 Run one session-store maintenance pass
  %s doctor [-json]           Run diagnostic checks
  %s version                  Print the version

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CLAWGATE_HOME           Data directory (default: ~/.clawgate)
`)
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "version":
			fmt.Println(Version)
			return
		case "pair":
			os.Exit(runPairCommand(ctx, args[1:]))
		case "maintain":
			os.Exit(runMaintainCommand(args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit needs only the home directory, so logger failures are audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	quietLogs := cfg.Quiet || !isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	pairStore, err := pairing.Open(cfg.PairingStorePath())
	if err != nil {
		fatalStartup(logger, "E_PAIRING_STORE_OPEN", err)
	}
	defer pairStore.Close()
	if err := audit.SetDB(pairStore.DB()); err != nil {
		fatalStartup(logger, "E_AUDIT_DB", err)
	}
	logger.Info("startup phase", "phase", "pairing_store_open")

	maint := sessions.ResolveMaintenance(cfg.Session.Maintenance, logger)
	sessionStore := sessions.NewStore(cfg.SessionStorePath(), maint, logger)

	cache := dedup.New(dedupOptions(cfg.Dedup, logger))
	eventBus := bus.New()

	pipeline := gateway.New(cfg, cache, sessionStore, pairStore, eventBus, logger,
		gateway.WithCodeIssuer(pairStore),
		gateway.WithMetrics(metrics),
	)
	logger.Info("startup phase", "phase", "pipeline_ready")

	var sweeper *maintenance.Sweeper
	if cfg.MaintenanceSchedule != "" {
		sweeper, err = maintenance.NewSweeper(maintenance.Config{
			Store:    sessionStore,
			Schedule: cfg.MaintenanceSchedule,
			Logger:   logger,
			Events:   eventBus,
			Metrics:  metrics,
		})
		if err != nil {
			fatalStartup(logger, "E_SWEEPER_INIT", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for range confWatcher.Events() {
			newCfg, err := config.Load()
			if err != nil {
				logger.Error("config.yaml reload failed", "error", err)
				continue
			}
			pipeline.Reconfigure(newCfg)
		}
	}()

	logger.Info("clawgate running", "version", Version, "home", cfg.HomeDir)
	<-ctx.Done()
	logger.Info("shutting down")
}

// dedupOptions resolves the raw dedup config section; malformed values
// fall back to the defaults with a warning rather than refusing startup.
func dedupOptions(raw config.DedupConfig, logger *slog.Logger) dedup.Options {
	var opts dedup.Options
	if raw.TTL != "" {
		ttl, err := config.ParseDuration(raw.TTL)
		if err != nil || ttl <= 0 {
			logger.Warn("invalid dedup ttl, using default", "value", raw.TTL)
		} else {
			opts.TTL = ttl
		}
	}
	if raw.MaxEntries > 0 {
		opts.MaxEntries = raw.MaxEntries
	}
	if raw.CleanupInterval != "" {
		iv, err := config.ParseDuration(raw.CleanupInterval)
		if err != nil || iv <= 0 {
			logger.Warn("invalid dedup cleanup interval, using default", "value", raw.CleanupInterval)
		} else {
			opts.CleanupInterval = iv
		}
	}
	return opts
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(audit.Event{
		Kind:     "runtime.startup",
		Decision: "fatal",
		Reason:   reasonCode,
		Detail:   message,
	})

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"gateway","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadDotEnv loads KEY=VALUE pairs from a local .env without overriding
// variables already set in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
