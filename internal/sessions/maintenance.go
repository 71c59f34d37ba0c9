package sessions

import (
	"log/slog"
	"sort"
	"time"

	"github.com/basket/clawgate/internal/config"
)

// Mode selects whether maintenance mutates the persisted map or only
// reports what it would have done.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeWarn    Mode = "warn"
)

const (
	DefaultMaxEntries  = 500
	DefaultRotateBytes = int64(10 << 20)
)

// Maintenance is the resolved retention policy applied on every persisted
// write. PruneAfter zero means no age-based pruning.
type Maintenance struct {
	Mode        Mode
	PruneAfter  time.Duration
	MaxEntries  int
	RotateBytes int64
}

// DefaultMaintenance returns the documented defaults: enforce, no
// retention window, cap 500, rotate at 10 MiB.
func DefaultMaintenance() Maintenance {
	return Maintenance{
		Mode:        ModeEnforce,
		MaxEntries:  DefaultMaxEntries,
		RotateBytes: DefaultRotateBytes,
	}
}

// ResolveMaintenance turns the raw session.maintenance config section into
// a policy. Malformed values fail closed to the documented defaults with a
// warning rather than refusing to start: losing a tuning knob is better
// than losing the gateway.
func ResolveMaintenance(raw config.MaintenanceConfig, logger *slog.Logger) Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	m := DefaultMaintenance()

	switch Mode(raw.Mode) {
	case ModeWarn:
		m.Mode = ModeWarn
	case ModeEnforce, "":
	default:
		logger.Warn("invalid maintenance mode, using enforce", "mode", raw.Mode)
	}

	if raw.PruneAfter != "" {
		d, err := config.ParseDuration(raw.PruneAfter)
		if err != nil || d <= 0 {
			logger.Warn("invalid pruneAfter, retention disabled", "value", raw.PruneAfter, "error", err)
		} else {
			m.PruneAfter = d
		}
	} else if raw.PruneAfterDays > 0 {
		// Deprecated day-count alias.
		logger.Warn("pruneAfterDays is deprecated, use pruneAfter", "days", raw.PruneAfterDays)
		m.PruneAfter = time.Duration(raw.PruneAfterDays) * 24 * time.Hour
	}

	if raw.MaxEntries > 0 {
		m.MaxEntries = raw.MaxEntries
	} else if raw.MaxEntries < 0 {
		logger.Warn("invalid maxEntries, using default", "value", raw.MaxEntries)
	}

	if raw.RotateBytes != "" {
		n, err := config.ParseSize(raw.RotateBytes)
		if err != nil || n <= 0 {
			logger.Warn("invalid rotateBytes, using default", "value", raw.RotateBytes, "error", err)
		} else {
			m.RotateBytes = n
		}
	}

	return m
}

// Report describes one maintenance pass. In warn mode the counts are what
// enforcement would have removed.
type Report struct {
	Mode    Mode
	Pruned  int // removed by the retention window
	Capped  int // removed by the entry cap
	Rotated bool
	Backup  string // backup path when Rotated
}

// Removed returns the total entries a pass removed (or would remove).
func (r Report) Removed() int { return r.Pruned + r.Capped }

// apply computes the retained map under this policy. The input map is
// never mutated; the caller decides whether the result is persisted
// (enforce) or only reported (warn).
func (m Maintenance) apply(entries map[string]Entry, now time.Time) (map[string]Entry, Report) {
	report := Report{Mode: m.Mode}
	kept := make(map[string]Entry, len(entries))

	if m.PruneAfter > 0 {
		cutoff := now.Add(-m.PruneAfter).UnixMilli()
		for key, e := range entries {
			if e.UpdatedAt < cutoff {
				report.Pruned++
				continue
			}
			kept[key] = e
		}
	} else {
		for key, e := range entries {
			kept[key] = e
		}
	}

	if m.MaxEntries > 0 && len(kept) > m.MaxEntries {
		keys := make([]string, 0, len(kept))
		for key := range kept {
			keys = append(keys, key)
		}
		// Most recently updated first. Ordering between entries sharing a
		// timestamp is unspecified.
		sort.Slice(keys, func(i, j int) bool {
			return kept[keys[i]].UpdatedAt > kept[keys[j]].UpdatedAt
		})
		for _, key := range keys[m.MaxEntries:] {
			delete(kept, key)
			report.Capped++
		}
	}

	return kept, report
}
