package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/wizard"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkspace = "ws-1"

type account struct {
	user     models.User
	password string
}

type fakeUsers map[string]account

func (f fakeUsers) Authenticate(_ context.Context, email, password string) (*models.User, error) {
	a, ok := f[email]
	if !ok || a.password != password {
		return nil, users.ErrInvalidCredentials
	}
	u := a.user
	return &u, nil
}

type testEnv struct {
	t        *testing.T
	router   *gin.Engine
	handler  *Handler
	sessions *Sessions
	jwt      *auth.JWTManager
	producer *streamtest.Producer

	mu     sync.Mutex
	stores map[string]*persistence.MemoryStore
	files  map[string]*filestore.AferoStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jm, err := auth.NewJWTManager("test-secret")
	require.NoError(t, err)
	env := &testEnv{
		t:        t,
		jwt:      jm,
		producer: streamtest.New(),
		stores:   map[string]*persistence.MemoryStore{},
		files:    map[string]*filestore.AferoStore{},
	}
	env.sessions = NewSessions(env.factory, nil, time.Second)
	env.handler = NewHandler(HandlerConfig{
		Sessions:   env.sessions,
		JWTManager: env.jwt,
		Users: fakeUsers{"ana@example.com": {
			user:     models.User{ID: "user-42", Name: "Ana", Email: "ana@example.com"},
			password: "secret123",
		}},
		TokenTTL: time.Hour,
	})
	env.router = gin.New()
	env.handler.RegisterRoutes(env.router, auth.RequireAuth(env.jwt, nil))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, env.handler.Shutdown(ctx))
		assert.NoError(t, env.sessions.Close(ctx))
	})
	return env
}

func (e *testEnv) store(workspaceID string) *persistence.MemoryStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stores[workspaceID]
	if !ok {
		s = persistence.NewMemoryStore()
		e.stores[workspaceID] = s
	}
	return s
}

func (e *testEnv) factory(_ context.Context, workspaceID string, hub *Hub) (*wizard.Sequencer, func(context.Context) error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := runloop.New()
	go loop.Run(ctx)

	files := filestore.New(afero.NewMemMapFs(), "/workspaces/"+workspaceID)
	e.mu.Lock()
	e.files[workspaceID] = files
	e.mu.Unlock()

	persist := persistence.NewService(e.store(workspaceID), nil, persistence.WithDebounce(time.Hour))
	pipeline := generation.New([]generation.Artifact{{
		Name:     "product.md",
		Path:     ".kiro/steering/product.md",
		Required: true,
		Generator: generation.GeneratorFunc(func(context.Context, generation.Artifact, generation.Input) ([]generation.File, error) {
			return []generation.File{{Path: ".kiro/steering/product.md", Content: []byte("# Product")}}, nil
		}),
	}}, files)

	seq := wizard.New(wizard.Config{
		Exec:        loop,
		Producer:    e.producer,
		Persistence: persist,
		Pipeline:    pipeline,
		UI:          hub,
		Notifier:    hub,
	})
	closeFn := func(ctx context.Context) error {
		err := persist.Close(ctx)
		cancel()
		<-loop.Done()
		return err
	}
	return seq, closeFn, nil
}

func (e *testEnv) token() string {
	e.t.Helper()
	token, _, err := e.jwt.GenerateToken(context.Background(), "user-1", "ana@example.com", testWorkspace, nil, time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) edit(step string, req EditRequest) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/wizard/steps/"+step+"/edit", req)
}

// seed stores a saved session that POST /resume will load.
func (e *testEnv) seed(state *models.WizardState) {
	e.t.Helper()
	data, err := persistence.Encode(state, time.Now())
	require.NoError(e.t, err)
	e.store(testWorkspace).Put(data)
}

func decodeWizard(t *testing.T, w *httptest.ResponseRecorder) WizardResponse {
	t.Helper()
	var resp WizardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.State)
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func readyState() *models.WizardState {
	s := models.NewWizardState()
	s.CurrentStep = models.StepGenerate
	s.HighestStepReached = models.StepGenerate
	s.BusinessContext = models.BusinessContextState{Objective: "Reduce stockouts", Industry: "Retail", Systems: []string{"SAP S/4HANA"}}
	s.GapFilling.Assumptions = []models.SystemAssumption{{System: "SAP S/4HANA", Modules: []string{"MM"}, Source: models.SourceAI}}
	s.GapFilling.Confirmed = true
	s.Outcome.PrimaryOutcome = "Cut stockouts by 30%"
	s.Outcome.SuccessMetrics = []models.SuccessMetric{{Name: "Stockout rate", Target: "-30%"}}
	s.Security.DataSensitivity = models.SensitivityInternal
	s.AgentDesign.Agents = []models.AgentSpec{{ID: "buyer", Name: "Buyer", Role: "Raises POs"}}
	s.AgentDesign.Accepted = true
	return s
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"valid credentials", `{"email":"ana@example.com","password":"secret123"}`, http.StatusOK, ""},
		{"wrong password", `{"email":"ana@example.com","password":"nope12345"}`, http.StatusUnauthorized, models.ErrCodeUnauthorized},
		{"unknown user", `{"email":"bob@example.com","password":"secret123"}`, http.StatusUnauthorized, models.ErrCodeUnauthorized},
		{"malformed email", `{"email":"ana","password":"secret123"}`, http.StatusBadRequest, models.ErrCodeInvalidRequest},
		{"missing body", ``, http.StatusBadRequest, models.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
				return
			}

			var resp models.LoginResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "user-42", resp.WorkspaceID)
			assert.Equal(t, "Ana", resp.User.Name)
			claims, err := env.jwt.ValidateToken(context.Background(), resp.Token)
			require.NoError(t, err)
			assert.Equal(t, "user-42", claims.WorkspaceID)
			assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)
		})
	}
}

func TestWizardRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/wizard", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decodeError(t, w).Code)
}

func TestGetWizard(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/wizard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeWizard(t, w)
	assert.Equal(t, models.StepBusinessContext, resp.State.CurrentStep)
	require.Len(t, resp.Summary, models.StepCount)
	assert.Equal(t, "business_context", resp.Summary[0].Name)
	assert.Equal(t, validation.StatusError, resp.Summary[0].Result.Status)
	assert.Nil(t, resp.Validation)
}

func TestNextReportsValidationFailure(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/wizard/next", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, models.ErrCodeValidationFailed, resp.Code)
	assert.Equal(t, "Business objective is required", resp.Details["message"])
	assert.Equal(t, string(validation.StatusError), resp.Details["status"])
}

func TestEditThenNextAdvances(t *testing.T) {
	env := newTestEnv(t)
	env.producer.Enqueue(streamtest.Text("```json\n" + `{"assumptions": [{"system": "SAP S/4HANA", "modules": ["MM", "SD"]}]}` + "\n```"))

	for _, req := range []EditRequest{
		{Op: "set_objective", Value: raw(t, "Reduce stockouts")},
		{Op: "set_industry", Value: raw(t, "Retail")},
		{Op: "add_system", Value: raw(t, "SAP S/4HANA")},
	} {
		w := env.edit("business_context", req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.do(http.MethodPost, "/api/wizard/next", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeWizard(t, w)
	assert.Equal(t, models.StepGapFilling, resp.State.CurrentStep)
	require.NotNil(t, resp.Validation)
	assert.Equal(t, validation.StatusComplete, resp.Validation.Status)

	require.Eventually(t, func() bool {
		resp := decodeWizard(t, env.do(http.MethodGet, "/api/wizard", nil))
		return len(resp.State.GapFilling.Assumptions) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, env.producer.Sent(), 1)
}

func TestEditErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		step       string
		req        EditRequest
		wantStatus int
		wantCode   string
	}{
		{"unknown op", "business_context", EditRequest{Op: "set_mood"}, http.StatusBadRequest, models.ErrCodeInvalidRequest},
		{"missing value", "business_context", EditRequest{Op: "set_objective"}, http.StatusBadRequest, models.ErrCodeInvalidRequest},
		{"wrong value type", "business_context", EditRequest{Op: "set_systems", Value: json.RawMessage(`"SAP"`)}, http.StatusBadRequest, models.ErrCodeInvalidRequest},
		{"unknown step", "step-nine", EditRequest{Op: "set_objective"}, http.StatusBadRequest, models.ErrCodeInvalidRequest},
		{"step not reached", "outcome", EditRequest{Op: "set_primary_outcome", Value: raw(t, "x")}, http.StatusConflict, models.ErrCodeStepLocked},
		{"step by number", "1", EditRequest{Op: "set_industry", Value: raw(t, "Retail")}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.edit(tt.step, tt.req)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			}
		})
	}
}

func TestEditIndexOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	env.seed(readyState())
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/wizard/resume", nil).Code)

	w := env.edit("outcome", EditRequest{Op: "remove_metric", Index: 5})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrCodeIndexOutOfRange, decodeError(t, w).Code)
}

func TestNavigationErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/wizard/goto/mock_data", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrCodeStepLocked, decodeError(t, w).Code)

	w = env.do(http.MethodPost, "/api/wizard/skip-security", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrCodeInvalidTransition, decodeError(t, w).Code)

	w = env.do(http.MethodPost, "/api/wizard/back", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StepBusinessContext, decodeWizard(t, w).State.CurrentStep)
}

func TestResumeThenGoTo(t *testing.T) {
	env := newTestEnv(t)
	env.seed(readyState())

	w := env.do(http.MethodPost, "/api/wizard/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeWizard(t, w)
	assert.Equal(t, string(persistence.StatusLoaded), resp.Outcome)
	assert.Equal(t, models.StepGenerate, resp.State.CurrentStep)

	w = env.do(http.MethodPost, "/api/wizard/goto/security", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StepSecurity, decodeWizard(t, w).State.CurrentStep)

	w = env.do(http.MethodPost, "/api/wizard/skip-security", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeWizard(t, w)
	assert.Equal(t, models.StepAgentDesign, resp.State.CurrentStep)
	assert.True(t, resp.State.Security.Skipped)
}

func TestResumeWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/wizard/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(persistence.StatusNotFound), decodeWizard(t, w).Outcome)
}

func TestStartOverWithoutClientIsCancelled(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.edit("business_context", EditRequest{Op: "set_objective", Value: raw(t, "Keep me")}).Code)

	w := env.do(http.MethodPost, "/api/wizard/start-over", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeWizard(t, w)
	assert.Equal(t, "cancelled", resp.Outcome)
	assert.Equal(t, "Keep me", resp.State.BusinessContext.Objective)
}

func TestConversationRouteErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/wizard/steps/outcome/regenerate", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrCodeStepLocked, decodeError(t, w).Code)

	w = env.do(http.MethodPost, "/api/wizard/steps/demo_strategy/retry?section=epilogue", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/wizard/steps/gap_filling/messages", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrCodeInvalidRequest, decodeError(t, w).Code)
}

func TestSendMessageIsAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(readyState())
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/wizard/resume", nil).Code)
	env.producer.Enqueue(streamtest.Text(`{"primaryOutcome": "Cut stockouts by 40%"}`))

	w := env.do(http.MethodPost, "/api/wizard/steps/outcome/messages", MessageRequest{Text: "Be more ambitious"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		resp := decodeWizard(t, env.do(http.MethodGet, "/api/wizard", nil))
		return resp.State.Outcome.PrimaryOutcome == "Cut stockouts by 40%"
	}, 2*time.Second, 10*time.Millisecond)
	sent := env.producer.Sent()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].Prompt, "Be more ambitious")
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/wizard/generate", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrCodeInvalidTransition, decodeError(t, w).Code)

	env.seed(readyState())
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/wizard/resume", nil).Code)

	w = env.do(http.MethodPost, "/api/wizard/generate/retry", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/api/wizard/steps/generate/edit", EditRequest{Op: "set_include_roadmap", Value: raw(t, false)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decodeWizard(t, w).State.Generation.IncludeRoadmap)

	w = env.do(http.MethodPost, "/api/wizard/generate", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		resp := decodeWizard(t, env.do(http.MethodGet, "/api/wizard", nil))
		return resp.State.Generation.Phase == models.PhaseSuccess
	}, 2*time.Second, 10*time.Millisecond)

	env.mu.Lock()
	files := env.files[testWorkspace]
	env.mu.Unlock()
	data, err := files.Read(context.Background(), ".kiro/steering/product.md")
	require.NoError(t, err)
	assert.Equal(t, "# Product", string(data))
}

func TestGenerateBlockedByValidation(t *testing.T) {
	env := newTestEnv(t)
	state := readyState()
	state.AgentDesign.Accepted = false
	env.seed(state)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/wizard/resume", nil).Code)

	w := env.do(http.MethodPost, "/api/wizard/generate", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.ErrCodeGenerationBlocked, decodeError(t, w).Code)
}
