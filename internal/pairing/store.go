// Package pairing persists the senders approved through the out-of-band
// pairing handshake, plus the short-lived codes the handshake exchanges.
// The access resolver consumes this store only as a snapshot: a read
// failure degrades to no entries, never to a blocked gateway.
package pairing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the pairing database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pairing db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pairings (
			channel    TEXT NOT NULL,
			sender     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (channel, sender)
		);
		CREATE TABLE IF NOT EXISTS pairing_codes (
			code       TEXT PRIMARY KEY,
			channel    TEXT NOT NULL,
			sender     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create pairing schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so the audit sink can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AllowFrom returns the paired senders for a channel in first-seen order.
// This is the snapshot the access resolver merges under the pairing policy.
func (s *Store) AllowFrom(ctx context.Context, channel string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender FROM pairings
		WHERE channel = ?
		ORDER BY created_at ASC, rowid ASC;
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("query pairings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("scan pairing: %w", err)
		}
		out = append(out, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pairing rows: %w", err)
	}
	return out, nil
}

// Approve records a sender as paired. Idempotent.
func (s *Store) Approve(ctx context.Context, channel, sender string) error {
	channel = strings.TrimSpace(channel)
	sender = strings.TrimSpace(sender)
	if channel == "" || sender == "" {
		return fmt.Errorf("channel and sender required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairings (channel, sender)
		VALUES (?, ?)
		ON CONFLICT(channel, sender) DO NOTHING;
	`, channel, sender)
	if err != nil {
		return fmt.Errorf("insert pairing: %w", err)
	}
	return nil
}

// Remove unpairs a sender.
func (s *Store) Remove(ctx context.Context, channel, sender string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pairings WHERE channel = ? AND sender = ?;
	`, channel, sender)
	if err != nil {
		return fmt.Errorf("delete pairing: %w", err)
	}
	return nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// IssueCode creates a pairing code for a sender requesting access. The
// code is what the bot sends back when the resolver returns the pairing
// decision; an operator redeems it elsewhere to approve the sender.
func (s *Store) IssueCode(ctx context.Context, channel, sender string, ttl time.Duration) (string, error) {
	channel = strings.TrimSpace(channel)
	sender = strings.TrimSpace(sender)
	if channel == "" || sender == "" {
		return "", fmt.Errorf("channel and sender required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	code, err := newCode()
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pairing_codes (code, channel, sender, expires_at)
		VALUES (?, ?, ?, ?);
	`, code, channel, sender, time.Now().UTC().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("insert pairing code: %w", err)
	}
	return code, nil
}

// Redeem consumes a valid code and records the pairing it described.
func (s *Store) Redeem(ctx context.Context, code string) (channel, sender string, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", "", fmt.Errorf("empty pairing code")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin redeem tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var expiresAt time.Time
	row := tx.QueryRowContext(ctx, `
		SELECT channel, sender, expires_at FROM pairing_codes WHERE code = ?;
	`, code)
	if err := row.Scan(&channel, &sender, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("unknown pairing code")
		}
		return "", "", fmt.Errorf("query pairing code: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return "", "", fmt.Errorf("pairing code expired")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_codes WHERE code = ?;`, code); err != nil {
		return "", "", fmt.Errorf("consume pairing code: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pairings (channel, sender)
		VALUES (?, ?)
		ON CONFLICT(channel, sender) DO NOTHING;
	`, channel, sender); err != nil {
		return "", "", fmt.Errorf("insert pairing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit redeem: %w", err)
	}
	return channel, sender, nil
}

// PurgeExpiredCodes removes codes past their expiry. Idempotent.
func (s *Store) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pairing_codes WHERE expires_at < ?;
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge pairing codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
