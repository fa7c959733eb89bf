package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"

	_ "modernc.org/sqlite"
)

// SQLitePersister stores the state snapshot in a single-row SQLite table,
// encoded by the configured codec. A revision counter increments on every
// write so external tooling can tell snapshots apart.
type SQLitePersister[S any] struct {
	db    *sql.DB
	codec persist.Codec[S]
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flowstate_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	revision INTEGER NOT NULL DEFAULT 0,
	state BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);`

// NewSQLitePersister opens (or creates) the database at path and ensures the
// snapshot table exists. A nil codec uses JSON.
func NewSQLitePersister[S any](ctx context.Context, path string, codec persist.Codec[S]) (*SQLitePersister[S], error) {
	if path == "" {
		return nil, flowerrors.NewConfigError("sqlite persister requires a non-empty path", nil)
	}
	if codec == nil {
		codec = persist.JSONCodec[S]{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("opening sqlite database '%s'", path), err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY
	// under concurrent persist and read calls.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, flowerrors.NewConfigError(fmt.Sprintf("initializing sqlite schema in '%s'", path), err)
	}
	return &SQLitePersister[S]{db: db, codec: codec}, nil
}

func (s *SQLitePersister[S]) Read(ctx context.Context) (S, bool, error) {
	var zero S
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM flowstate_snapshot WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("reading sqlite snapshot: %w", err)
	}
	state, err := s.codec.Unmarshal(blob)
	if err != nil {
		return zero, false, fmt.Errorf("decoding sqlite snapshot: %w", err)
	}
	return state, true, nil
}

func (s *SQLitePersister[S]) Persist(ctx context.Context, previous, next S) error {
	data, err := s.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flowstate_snapshot (id, revision, state, updated_at)
		VALUES (1, 1, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(id) DO UPDATE SET
			revision = revision + 1,
			state = excluded.state,
			updated_at = excluded.updated_at`, data)
	if err != nil {
		return fmt.Errorf("writing sqlite snapshot: %w", err)
	}
	return nil
}

func (s *SQLitePersister[S]) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flowstate_snapshot WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting sqlite snapshot: %w", err)
	}
	return nil
}

// Revision returns the current snapshot revision, zero if none exists.
func (s *SQLitePersister[S]) Revision(ctx context.Context) (uint64, error) {
	var rev uint64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM flowstate_snapshot WHERE id = 1`).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sqlite snapshot revision: %w", err)
	}
	return rev, nil
}

// Close releases the database handle.
func (s *SQLitePersister[S]) Close() error {
	return s.db.Close()
}

var _ persist.Persister[struct{}] = (*SQLitePersister[struct{}])(nil)
