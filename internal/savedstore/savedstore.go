// Package savedstore persists user-saved items (companies, emails) as a
// keyed list in SQLite. Items are opaque JSON; the store orders them
// newest first and never interprets their contents.
package savedstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/tegami/migrations"
)

// ErrInvalidKind is returned when Add is called with a kind outside the
// known set.
var ErrInvalidKind = errors.New("savedstore: invalid kind")

// Item kinds.
const (
	KindCompany = "company"
	KindEmail   = "email"
)

const defaultListLimit = 50

// timeLayout is RFC3339 with fixed-width nanoseconds so stored timestamps
// sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SavedItem is one stored entry.
type SavedItem struct {
	ID      int64           `json:"id"`
	Kind    string          `json:"kind"`
	Item    json.RawMessage `json:"item"`
	SavedAt time.Time       `json:"saved_at"`
}

// Store is a SQLite-backed saved-items list. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and runs any
// unapplied migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("savedstore: open %s: %w", path, err)
	}
	// One writer at a time keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, migrations.FS, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("savedstore: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ValidKind reports whether kind names a known item kind.
func ValidKind(kind string) bool {
	return kind == KindCompany || kind == KindEmail
}

// Add stores one item and returns its id.
func (s *Store) Add(ctx context.Context, kind string, item json.RawMessage) (int64, error) {
	if !ValidKind(kind) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO saved (kind, item, saved_at) VALUES (?, ?, ?)`,
		kind, string(item), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("savedstore: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("savedstore: insert id: %w", err)
	}
	s.logger.Debug("savedstore: item added", "kind", kind, "id", id)
	return id, nil
}

// List returns items newest first. An empty kind lists all kinds; a
// non-positive limit applies the default.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]SavedItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, kind, item, saved_at FROM saved`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY saved_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("savedstore: list: %w", err)
	}
	defer rows.Close()

	var out []SavedItem
	for rows.Next() {
		var (
			it      SavedItem
			raw     string
			savedAt string
		)
		if err := rows.Scan(&it.ID, &it.Kind, &raw, &savedAt); err != nil {
			return nil, fmt.Errorf("savedstore: scan: %w", err)
		}
		it.Item = json.RawMessage(raw)
		it.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, fmt.Errorf("savedstore: parse saved_at %q: %w", savedAt, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("savedstore: list rows: %w", err)
	}
	return out, nil
}
