package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SnapshotSchema creates the snapshot table.
const SnapshotSchema = `CREATE TABLE IF NOT EXISTS wizard_snapshots (
	workspace_id   TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	payload        BYTEA NOT NULL,
	saved_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps one snapshot row per workspace.
type PostgresStore struct {
	db          DB
	workspaceID string
}

// NewPostgresStore binds a store to a workspace.
func NewPostgresStore(db DB, workspaceID string) *PostgresStore {
	return &PostgresStore{db: db, workspaceID: workspaceID}
}

// EnsureSchema creates the snapshot table when missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, SnapshotSchema); err != nil {
		return fmt.Errorf("failed to create wizard_snapshots table: %w", err)
	}
	return nil
}

// Read implements Store.
func (p *PostgresStore) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRow(ctx,
		`SELECT payload FROM wizard_snapshots WHERE workspace_id = $1`,
		p.workspaceID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return payload, nil
}

// Write implements Store. The schema version column mirrors the payload
// header so that operators can query stale rows.
func (p *PostgresStore) Write(ctx context.Context, data []byte) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO wizard_snapshots (workspace_id, schema_version, payload, saved_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (workspace_id) DO UPDATE
		 SET schema_version = EXCLUDED.schema_version,
		     payload = EXCLUDED.payload,
		     saved_at = EXCLUDED.saved_at`,
		p.workspaceID, SchemaVersion, data,
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (p *PostgresStore) Delete(ctx context.Context) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM wizard_snapshots WHERE workspace_id = $1`,
		p.workspaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
