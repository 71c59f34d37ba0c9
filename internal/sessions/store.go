// Package sessions persists the per-conversation session map and keeps it
// bounded and recoverable. The map is written back atomically as a whole;
// retention, capping, and rotation-with-backup run on every persisted
// write so the file can never grow without bound.
package sessions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Entry is one persisted session record, keyed by an opaque session key
// (agent, channel, conversation). The override fields are mutated by
// directive handling elsewhere; maintenance only reads UpdatedAt.
type Entry struct {
	SessionID     string `json:"sessionId"`
	UpdatedAt     int64  `json:"updatedAt"` // epoch milliseconds
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
	VerboseLevel  string `json:"verboseLevel,omitempty"`
	ModelOverride string `json:"modelOverride,omitempty"`
	SendPolicy    string `json:"sendPolicy,omitempty"`
}

// Touch stamps the entry as updated now.
func (e *Entry) Touch(now time.Time) {
	e.UpdatedAt = now.UnixMilli()
}

// storeSchema guards the on-disk shape: a bare object of session entries,
// no top-level envelope. A file that fails this is reported as corrupt
// before anything mutates or rewrites it.
const storeSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["sessionId", "updatedAt"],
		"properties": {
			"sessionId": {"type": "string"},
			"updatedAt": {"type": "number"}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func storeSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(storeSchema)))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("sessions.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("sessions.schema.json")
	})
	return compiledSchema, schemaErr
}

// pathLocks serializes writes per store path across every Store instance
// in the process, so concurrent handlers sharing a file cannot interleave
// a read-modify-write.
var pathLocks sync.Map // clean path -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	mu, _ := pathLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store persists the session map at one path under one maintenance policy.
type Store struct {
	path   string
	maint  Maintenance
	logger *slog.Logger
	now    func() time.Time

	// onReport, when set, observes every maintenance report (metrics).
	onReport func(Report)
}

type Option func(*Store)

// WithClock overrides the store's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithReportFunc registers an observer for maintenance reports.
func WithReportFunc(fn func(Report)) Option {
	return func(s *Store) { s.onReport = fn }
}

func NewStore(path string, maint Maintenance, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, maint: maint, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Load reads the session map. A missing file is an empty map; a file that
// is unreadable or fails the shape check is an error, never silently
// replaced.
func (s *Store) Load() (map[string]Entry, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Entry), nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]Entry), nil
	}

	schema, err := storeSchemaCompiled()
	if err != nil {
		return nil, fmt.Errorf("compile session store schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("session store is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("session store shape invalid: %w", err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode session store: %w", err)
	}
	return entries, nil
}

// Save applies the maintenance policy and persists the map atomically.
// In warn mode the unmodified map is persisted and the report only logged.
// Write failures propagate: silently losing session state is worse than a
// visible failure.
func (s *Store) Save(entries map[string]Entry) (Report, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()
	return s.saveLocked(entries)
}

func (s *Store) saveLocked(entries map[string]Entry) (Report, error) {
	now := s.now()
	retained, report := s.maint.apply(entries, now)

	toPersist := retained
	if s.maint.Mode == ModeWarn {
		toPersist = entries
		if report.Removed() > 0 {
			s.logger.Warn("session maintenance (warn mode, nothing removed)",
				"would_prune", report.Pruned, "would_cap", report.Capped,
				"entries", len(entries))
		}
	} else if report.Removed() > 0 {
		s.logger.Info("session maintenance",
			"pruned", report.Pruned, "capped", report.Capped,
			"entries", len(toPersist))
	}

	data, err := json.MarshalIndent(toPersist, "", "  ")
	if err != nil {
		return report, fmt.Errorf("encode session store: %w", err)
	}

	// Rotation runs in both modes: the backup removes nothing, it protects
	// the previous good state before the primary is overwritten.
	if int64(len(data)) > s.maint.RotateBytes {
		if backup, err := s.rotate(now); err != nil {
			return report, err
		} else if backup != "" {
			report.Rotated = true
			report.Backup = backup
			s.logger.Info("session store rotated", "backup", backup, "bytes", len(data))
		}
	}

	if err := s.writeAtomic(data); err != nil {
		return report, err
	}
	if s.onReport != nil {
		s.onReport(report)
	}
	return report, nil
}

// Mutate runs fn over the loaded map and saves the result under a single
// hold of the per-path lock.
func (s *Store) Mutate(fn func(map[string]Entry)) (Report, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return Report{}, err
	}
	fn(entries)
	return s.saveLocked(entries)
}

// Maintain runs a maintenance pass without other mutations, for the
// periodic sweeper. A missing store is a no-op.
func (s *Store) Maintain() (Report, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return Report{Mode: s.maint.Mode}, nil
	}
	entries, err := s.loadLocked()
	if err != nil {
		return Report{}, err
	}
	return s.saveLocked(entries)
}

// rotate copies the current primary file to a timestamped backup before it
// is overwritten. Backups accumulate; pruning them is deliberately not the
// store's job.
func (s *Store) rotate(now time.Time) (string, error) {
	src, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // nothing to protect yet
		}
		return "", fmt.Errorf("open session store for backup: %w", err)
	}
	defer src.Close()

	backup := s.path + ".bak." + strconv.FormatInt(now.UnixMilli(), 10)
	dst, err := os.OpenFile(backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create session store backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("write session store backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close session store backup: %w", err)
	}
	return backup, nil
}

// writeAtomic writes to a temp file in the same directory and renames it
// over the primary, so a crash mid-write never leaves a half-written map.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create session store temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close session store temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}
