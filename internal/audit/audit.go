// Package audit records trust decisions — access blocks, approval
// denials, dropped duplicates — to an append-only JSONL file and,
// when a database is attached, to an audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/clawgate/internal/shared"
)

// Event is one audited trust decision.
type Event struct {
	Kind     string `json:"event"`
	Channel  string `json:"channel,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type entry struct {
	Timestamp string `json:"timestamp"`
	Event
}

var (
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB attaches a database for audit_log writes. The table is created
// on the shared handle so the pairing store's database can host it.
func SetDB(d *sql.DB) error {
	mu.Lock()
	defer mu.Unlock()
	if d != nil {
		_, err := d.ExecContext(context.Background(), `
			CREATE TABLE IF NOT EXISTS audit_log (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				event     TEXT NOT NULL,
				channel   TEXT,
				sender    TEXT,
				decision  TEXT NOT NULL,
				reason    TEXT,
				detail    TEXT
			);
		`)
		if err != nil {
			return err
		}
	}
	db = d
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of deny decisions since startup.
func DenyCount() int64 {
	return denyCount.Load()
}

func Record(ev Event) {
	if ev.Decision == "deny" {
		denyCount.Add(1)
	}

	// Secrets never reach persistence.
	ev.Reason = shared.Redact(ev.Reason)
	ev.Detail = shared.Redact(ev.Detail)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Event:     ev,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (event, channel, sender, decision, reason, detail)
			VALUES (?, ?, ?, ?, ?, ?);
		`, ev.Kind, ev.Channel, ev.Sender, ev.Decision, ev.Reason, ev.Detail)
	}
}
