// Package sqlitestate persists workflow snapshots in a SQLite database, for
// single-node deployments.
package sqlitestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    snapshot   TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_state ON workflows(state);
CREATE TABLE IF NOT EXISTS workflow_leases (
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// Store implements ports.StateStorePort.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at dsn and applies the schema.
// dsn examples: "file:/var/lib/machine-sentry/state.db" or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot.
func (s *Store) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, state, snapshot, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		snap.ID, string(snap.State), string(data), snap.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads the snapshot stored under id.
func (s *Store) Load(ctx context.Context, id string) (domain.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM workflows WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, domain.NewNotFoundError("workflow "+id, "")
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load workflow %s: %w", id, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListActive returns the IDs of non-terminal runs ordered by ID.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workflows WHERE state NOT IN (?, ?) ORDER BY id`,
		string(domain.StateDone), string(domain.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AcquireLease claims id for owner. The upsert only overwrites a lease that
// owner already holds or that has expired.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_leases (id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE workflow_leases.owner = excluded.owner OR workflow_leases.expires_at <= ?`,
		id, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", id, err)
	}
	return n == 1, nil
}

// ReleaseLease drops owner's claim on id.
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_leases WHERE id = ? AND owner = ?`, id, owner); err != nil {
		return fmt.Errorf("release lease on %s: %w", id, err)
	}
	return nil
}
