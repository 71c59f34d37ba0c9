// Package doctor runs offline diagnostic checks over the clawgate home:
// configuration, stores, and schedule are each probed and reported
// without mutating anything.
package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/maintenance"
	"github.com/basket/clawgate/internal/pairing"
	"github.com/basket/clawgate/internal/sessions"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkSessionStore,
		checkPairingStore,
		checkSchedule,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail:  cfg.Fingerprint(),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	probe := filepath.Join(cfg.HomeDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: "Home directory not writable", Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkSessionStore(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Session store", Status: "SKIP", Message: "Config missing"}
	}
	path := cfg.SessionStorePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "Session store", Status: "PASS", Message: "No store yet (created on first session)"}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	maint := sessions.ResolveMaintenance(cfg.Session.Maintenance, logger)
	store := sessions.NewStore(path, maint, logger)
	entries, err := store.Load()
	if err != nil {
		return CheckResult{Name: "Session store", Status: "FAIL", Message: "Store unreadable or malformed", Detail: err.Error()}
	}
	status := "PASS"
	msg := fmt.Sprintf("%d entries", len(entries))
	if maint.MaxEntries > 0 && len(entries) > maint.MaxEntries {
		status = "WARN"
		msg = fmt.Sprintf("%d entries exceed the %d cap; next sweep will trim", len(entries), maint.MaxEntries)
	}
	return CheckResult{Name: "Session store", Status: status, Message: msg}
}

func checkPairingStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Pairing store", Status: "SKIP", Message: "Config missing"}
	}
	store, err := pairing.Open(cfg.PairingStorePath())
	if err != nil {
		return CheckResult{Name: "Pairing store", Status: "FAIL", Message: "Database unavailable", Detail: err.Error()}
	}
	defer store.Close()
	if _, err := store.AllowFrom(ctx, "doctor"); err != nil {
		return CheckResult{Name: "Pairing store", Status: "FAIL", Message: "Query failed", Detail: err.Error()}
	}
	return CheckResult{Name: "Pairing store", Status: "PASS", Message: "Database reachable"}
}

func checkSchedule(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Maintenance schedule", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.MaintenanceSchedule == "" {
		return CheckResult{Name: "Maintenance schedule", Status: "WARN", Message: "No schedule set; sweeper disabled"}
	}
	next, err := maintenance.NextRunTime(cfg.MaintenanceSchedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Maintenance schedule", Status: "FAIL", Message: "Invalid cron expression", Detail: err.Error()}
	}
	return CheckResult{Name: "Maintenance schedule", Status: "PASS", Message: fmt.Sprintf("Next sweep %s", next.Format(time.RFC3339))}
}
