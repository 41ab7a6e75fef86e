//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/gateway"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/wizard"
	"github.com/bizmatters/agent-builder/agentify-wizard/tests/helpers"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testSecret = "test-secret-key-for-wizard-integration-tests"

// server is the HTTP API over Postgres-backed users and snapshots.
type server struct {
	router   *gin.Engine
	handler  *gateway.Handler
	sessions *gateway.Sessions
	jwt      *auth.JWTManager
}

func newServer(t *testing.T, testDB *helpers.TestDatabase) *server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	producer := streamtest.New()

	factory := func(_ context.Context, workspaceID string, hub *gateway.Hub) (*wizard.Sequencer, func(context.Context) error, error) {
		ctx, cancel := context.WithCancel(context.Background())
		loop := runloop.New()
		go loop.Run(ctx)

		persist := persistence.NewService(persistence.NewPostgresStore(testDB.Pool, workspaceID), logger,
			persistence.WithDebounce(time.Hour))
		pipeline := generation.New([]generation.Artifact{{
			Name:     generation.ArtifactProduct,
			Path:     ".kiro/steering/product.md",
			Required: true,
			Generator: generation.GeneratorFunc(func(context.Context, generation.Artifact, generation.Input) ([]generation.File, error) {
				return []generation.File{{Path: ".kiro/steering/product.md", Content: []byte("# Product")}}, nil
			}),
		}}, filestore.New(afero.NewMemMapFs(), "/"+workspaceID))

		seq := wizard.New(wizard.Config{
			Exec:        loop,
			Producer:    producer,
			Persistence: persist,
			Pipeline:    pipeline,
			UI:          hub,
			Notifier:    hub,
			Logger:      logger.With(zap.String("workspace_id", workspaceID)),
		})
		return seq, func(ctx context.Context) error {
			err := persist.Close(ctx)
			cancel()
			<-loop.Done()
			return err
		}, nil
	}

	jm, err := auth.NewJWTManager(testSecret)
	require.NoError(t, err)

	s := &server{sessions: gateway.NewSessions(factory, logger, time.Second), jwt: jm}
	s.handler = gateway.NewHandler(gateway.HandlerConfig{
		Sessions:   s.sessions,
		JWTManager: jm,
		Users:      users.NewStore(testDB.Pool),
		Logger:     logger,
	})

	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.handler.RegisterRoutes(s.router, auth.RequireAuth(jm, logger))
	return s
}

// close flushes every session's pending snapshot.
func (s *server) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.handler.Shutdown(ctx))
	require.NoError(t, s.sessions.Close(ctx))
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *server, email, password string) models.LoginResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAuthenticationIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	s := newServer(t, testDB)
	defer s.close(t)

	email := helpers.UniqueEmail("auth")
	userID := testDB.CreateTestUser(t, email, helpers.DefaultTestPassword)
	testDB.ForgetSnapshot(t, userID)

	t.Run("Login Binds The Workspace", func(t *testing.T) {
		resp := login(t, s, email, helpers.DefaultTestPassword)
		assert.Equal(t, userID, resp.WorkspaceID)
		assert.Equal(t, email, resp.User.Email)
		assert.True(t, resp.ExpiresAt.After(time.Now()))

		claims, err := s.jwt.ValidateToken(context.Background(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, userID, claims.WorkspaceID)
	})

	t.Run("Wrong Password", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: email, Password: "wrong-password-1"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Email Is Case Insensitive", func(t *testing.T) {
		resp := login(t, s, strings.ToUpper(email), helpers.DefaultTestPassword)
		assert.Equal(t, userID, resp.WorkspaceID)
	})

	t.Run("Duplicate Email Is Rejected", func(t *testing.T) {
		_, err := users.NewStore(testDB.Pool).Create(context.Background(), "Other", email, helpers.DefaultTestPassword)
		assert.ErrorIs(t, err, users.ErrDuplicateEmail)
	})

	t.Run("Authentication Required", func(t *testing.T) {
		testCases := []struct {
			name   string
			header string
		}{
			{"Missing header", ""},
			{"Missing Bearer prefix", "invalid-token"},
			{"Invalid JWT format", "Bearer invalid.jwt.token"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, "/api/wizard", nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				w := httptest.NewRecorder()
				s.router.ServeHTTP(w, req)
				assert.Equal(t, http.StatusUnauthorized, w.Code)
			})
		}
	})

	t.Run("Expired Token", func(t *testing.T) {
		token, _, err := s.jwt.GenerateToken(context.Background(), userID, email, userID, nil, -time.Minute)
		require.NoError(t, err)
		w := s.do(t, http.MethodGet, "/api/wizard", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestWizardSessionSurvivesRestart(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)

	email := helpers.UniqueEmail("restart")
	userID := testDB.CreateTestUser(t, email, helpers.DefaultTestPassword)
	testDB.ForgetSnapshot(t, userID)

	first := newServer(t, testDB)
	token := login(t, first, email, helpers.DefaultTestPassword).Token

	w := first.do(t, http.MethodPost, "/api/wizard/steps/business_context/edit", token,
		gateway.EditRequest{Op: "set_objective", Value: json.RawMessage(`"Reduce stockouts"`)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = first.do(t, http.MethodPost, "/api/wizard/steps/business_context/edit", token,
		gateway.EditRequest{Op: "set_industry", Value: json.RawMessage(`"Retail"`)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Shutdown flushes the debounced save.
	first.close(t)
	assert.Equal(t, persistence.SchemaVersion, testDB.SnapshotVersion(t, userID))

	second := newServer(t, testDB)
	defer second.close(t)

	w = second.do(t, http.MethodGet, "/api/wizard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fresh gateway.WizardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fresh))
	assert.Empty(t, fresh.State.BusinessContext.Objective)

	// No client is connected, so the resume prompt is dismissed and the snapshot adopted.
	w = second.do(t, http.MethodPost, "/api/wizard/resume", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resumed gateway.WizardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resumed))
	assert.Equal(t, string(persistence.StatusLoaded), resumed.Outcome)
	assert.Equal(t, "Reduce stockouts", resumed.State.BusinessContext.Objective)
	assert.Equal(t, "Retail", resumed.State.BusinessContext.Industry)
}

func TestGenerationAgainstPostgres(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)

	email := helpers.UniqueEmail("generate")
	userID := testDB.CreateTestUser(t, email, helpers.DefaultTestPassword)
	testDB.ForgetSnapshot(t, userID)

	data, err := persistence.Encode(helpers.CompleteState(), time.Now())
	require.NoError(t, err)
	require.NoError(t, persistence.NewPostgresStore(testDB.Pool, userID).Write(context.Background(), data))

	s := newServer(t, testDB)
	defer s.close(t)
	token := login(t, s, email, helpers.DefaultTestPassword).Token

	w := s.do(t, http.MethodPost, "/api/wizard/resume", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/wizard/generate", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/wizard", token, nil)
		var resp gateway.WizardResponse
		if json.Unmarshal(w.Body.Bytes(), &resp) != nil || resp.State == nil {
			return false
		}
		return resp.State.Generation.Phase == models.PhaseSuccess
	}, 5*time.Second, 20*time.Millisecond)

	// A finished project no longer needs its saved session.
	svc := persistence.NewService(persistence.NewPostgresStore(testDB.Pool, userID), nil)
	require.Eventually(t, func() bool {
		return svc.Load(context.Background()).Status == persistence.StatusNotFound
	}, 5*time.Second, 20*time.Millisecond)
}
