package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret    = "wizardctl-secret"
	testWorkspace = "user-7"
	snapshotPath  = "/ws/user-7/.agentify/wizard-state.json"
)

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AGENTIFY_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WORKSPACE_DIR", "/ws")
	t.Setenv("AGENTIFY_SNAPSHOT_STORE", "file")
}

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&app{fs: fs, out: &out, logger: zap.NewNop()})
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func seedSnapshot(t *testing.T, fs afero.Fs, state *models.WizardState) {
	t.Helper()
	data, err := persistence.Encode(state, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("/ws/user-7/.agentify", 0o755))
	require.NoError(t, afero.WriteFile(fs, snapshotPath, data, 0o644))
}

func TestTokenCommand(t *testing.T) {
	setEnv(t)

	out, err := execute(t, afero.NewMemMapFs(), "token", "--user", testWorkspace, "--ttl", "1h")
	require.NoError(t, err)

	jm, err := auth.NewJWTManager(testSecret)
	require.NoError(t, err)
	claims, err := jm.ValidateToken(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, testWorkspace, claims.UserID)
	assert.Equal(t, testWorkspace, claims.WorkspaceID)
}

func TestTokenCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		args    []string
		wantErr string
	}{
		{"missing user flag", testSecret, []string{"token"}, `required flag(s) "user" not set`},
		{"missing secret", "", []string{"token", "--user", "u"}, "JWT secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t)
			t.Setenv("JWT_SECRET", tt.secret)
			_, err := execute(t, afero.NewMemMapFs(), tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSeedUserValidatesBeforeConnecting(t *testing.T) {
	setEnv(t)

	_, err := execute(t, afero.NewMemMapFs(), "seed-user", "--name", "Ana", "--email", "not-an-email", "--password", "secret123")
	assert.ErrorIs(t, err, users.ErrInvalidInput)

	_, err = execute(t, afero.NewMemMapFs(), "seed-user", "--name", "Ana", "--email", "ana@example.com", "--password", "secret123")
	assert.ErrorContains(t, err, "DATABASE_URL is required")
}

func TestSessionShow(t *testing.T) {
	setEnv(t)
	fs := afero.NewMemMapFs()

	out, err := execute(t, fs, "session", "show", "--workspace", testWorkspace)
	require.NoError(t, err)
	assert.Contains(t, out, "Status  : not_found")

	state := models.NewWizardState()
	state.BusinessContext.Objective = "Cut invoice processing time"
	seedSnapshot(t, fs, state)

	out, err = execute(t, fs, "session", "show", "--workspace", testWorkspace)
	require.NoError(t, err)
	assert.Contains(t, out, "Status  : loaded")
	assert.Contains(t, out, "Saved   : 2026-03-01T09:30:00Z")
	assert.Contains(t, out, "Step    : 1 "+models.StepBusinessContext.Title())
	assert.Contains(t, out, "STEP")
}

func TestSessionShowCorrupted(t *testing.T) {
	setEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, snapshotPath, []byte("{not json"), 0o644))

	out, err := execute(t, fs, "session", "show", "--workspace", testWorkspace)
	require.NoError(t, err)
	assert.Contains(t, out, "Status  : corrupted")
	assert.Contains(t, out, "Error   :")
}

func TestSessionShowJSON(t *testing.T) {
	setEnv(t)
	fs := afero.NewMemMapFs()
	seedSnapshot(t, fs, models.NewWizardState())

	out, err := execute(t, fs, "session", "show", "--workspace", testWorkspace, "--json")
	require.NoError(t, err)

	var got sessionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, persistence.StatusLoaded, got.Status)
	require.NotNil(t, got.State)
	assert.Equal(t, models.StepBusinessContext, got.State.CurrentStep)
	assert.Len(t, got.Summary, models.StepCount)
}

func TestSessionClear(t *testing.T) {
	setEnv(t)
	fs := afero.NewMemMapFs()
	seedSnapshot(t, fs, models.NewWizardState())

	out, err := execute(t, fs, "session", "clear", "--workspace", testWorkspace)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared saved session for workspace user-7")

	exists, err := afero.Exists(fs, snapshotPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSessionRequiresWorkspace(t *testing.T) {
	setEnv(t)
	_, err := execute(t, afero.NewMemMapFs(), "session", "show")
	assert.ErrorContains(t, err, "--workspace is required")
}

func TestArtifacts(t *testing.T) {
	setEnv(t)
	fs := afero.NewMemMapFs()

	state := models.NewWizardState()
	state.Generation.IncludeRoadmap = false
	state.Generation.Outcomes = []models.ArtifactOutcome{
		{Name: "product.md", Paths: []string{".kiro/steering/product.md"}, Completed: true},
		{Name: "tech.md", Error: "model overloaded"},
	}
	seedSnapshot(t, fs, state)
	require.NoError(t, afero.WriteFile(fs, "/ws/user-7/.kiro/steering/product.md", []byte("# Product"), 0o644))

	out, err := execute(t, fs, "artifacts", "--workspace", testWorkspace)
	require.NoError(t, err)

	rows := map[string][]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		fields := strings.Fields(line)
		rows[fields[0]] = fields
	}
	assert.Equal(t, []string{"product.md", ".kiro/steering/product.md", "yes", "true", "completed"}, rows["product.md"])
	assert.Equal(t, []string{"tech.md", ".kiro/steering/tech.md", "yes", "false", "error:", "model", "overloaded"}, rows["tech.md"])
	assert.Equal(t, []string{"roadmap.md", "ROADMAP.md", "no", "false", "-"}, rows["roadmap.md"])
	assert.Equal(t, []string{"policies", "policies", "no", "false", "-"}, rows["policies"])
}
