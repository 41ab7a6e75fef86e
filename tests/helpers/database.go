package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/database"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// DatabaseURL returns DATABASE_URL, or a URL built from the POSTGRES_* variables.
func DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		env("POSTGRES_USER", "postgres"),
		env("POSTGRES_PASSWORD", "postgres"),
		env("POSTGRES_HOST", "localhost"),
		env("POSTGRES_PORT", "5432"),
		env("POSTGRES_DB", "agentify_wizard_test"),
	)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
}

// NewTestDatabase connects and migrates, skipping the test when no database is reachable.
func NewTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	pool, err := database.Connect(ctx, DatabaseURL(), 3, time.Second, zaptest.NewLogger(t))
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))

	return &TestDatabase{Pool: pool, ctx: ctx}
}

// CreateTestUser creates an account through the users store and deletes it after the test.
func (db *TestDatabase) CreateTestUser(t *testing.T, email, password string) string {
	t.Helper()
	userID, err := users.NewStore(db.Pool).Create(db.ctx, "Test User", email, password)
	require.NoError(t, err)
	t.Cleanup(func() {
		if _, err := db.Pool.Exec(db.ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
			t.Logf("Warning: failed to delete test user: %v", err)
		}
	})
	return userID
}

// ForgetSnapshot deletes a workspace's snapshot row after the test.
func (db *TestDatabase) ForgetSnapshot(t *testing.T, workspaceID string) {
	t.Helper()
	t.Cleanup(func() {
		if _, err := db.Pool.Exec(db.ctx, `DELETE FROM wizard_snapshots WHERE workspace_id = $1`, workspaceID); err != nil {
			t.Logf("Warning: failed to delete snapshot: %v", err)
		}
	})
}

// SnapshotVersion returns the schema_version column of a workspace's row.
func (db *TestDatabase) SnapshotVersion(t *testing.T, workspaceID string) int {
	t.Helper()
	var version int
	err := db.Pool.QueryRow(db.ctx,
		`SELECT schema_version FROM wizard_snapshots WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&version)
	require.NoError(t, err)
	return version
}

// UniqueEmail returns an address no other test run uses.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}
