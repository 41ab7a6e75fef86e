package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/wizard"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator verifies login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Sessions       *Sessions
	JWTManager     *auth.JWTManager
	Users          Authenticator
	TokenTTL       time.Duration
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler serves the wizard HTTP and websocket API.
type Handler struct {
	sessions   *Sessions
	jwtManager *auth.JWTManager
	users      Authenticator
	tokenTTL   time.Duration
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	// Generation runs outlive the request that started them.
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		sessions:   cfg.Sessions,
		jwtManager: cfg.JWTManager,
		users:      cfg.Users,
		tokenTTL:   cfg.TokenTTL,
		logger:     cfg.Logger,
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
		},
	}
	return h
}

// RegisterRoutes mounts the API on router. requireAuth guards everything but login.
func (h *Handler) RegisterRoutes(router gin.IRouter, requireAuth gin.HandlerFunc) {
	api := router.Group("/api")
	api.POST("/auth/login", h.Login)

	protected := api.Group("", requireAuth)
	protected.GET("/ws/wizard", h.StreamWizard)

	wiz := protected.Group("/wizard")
	wiz.GET("", h.GetWizard)
	wiz.POST("/next", h.Next)
	wiz.POST("/back", h.Back)
	wiz.POST("/goto/:step", h.GoTo)
	wiz.POST("/skip-security", h.SkipSecurity)
	wiz.POST("/start-over", h.StartOver)
	wiz.POST("/resume", h.Resume)
	wiz.POST("/steps/:step/edit", h.Edit)
	wiz.POST("/steps/:step/regenerate", h.Regenerate)
	wiz.POST("/steps/:step/retry", h.Retry)
	wiz.POST("/steps/:step/messages", h.SendMessage)
	wiz.POST("/generate", h.Generate)
	wiz.POST("/generate/retry", h.RetryGeneration)
}

// Shutdown stops background generation runs and waits for them.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancelRun()
	done := make(chan struct{})
	go func() {
		h.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WizardResponse is the state of the caller's wizard after an operation.
type WizardResponse struct {
	State      *models.WizardState     `json:"state"`
	Summary    []validation.StepResult `json:"summary"`
	Validation *validation.Result      `json:"validation,omitempty"`
	Outcome    string                  `json:"outcome,omitempty"`
}

// MessageRequest is a follow-up message in a step conversation.
type MessageRequest struct {
	Text    string `json:"text" binding:"required"`
	Section string `json:"section,omitempty"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return a JWT bound to their wizard workspace
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}
	if h.users == nil {
		abort(c, http.StatusServiceUnavailable, models.ErrCodeInternalError, "Login is not available")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		h.logger.Warn("login failed", zap.String("email", req.Email))
		abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate", zap.Error(err))
		abort(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to authenticate")
		return
	}

	// Each account owns one wizard workspace.
	token, expires, err := h.jwtManager.GenerateToken(c.Request.Context(), user.ID, user.Email, user.ID, []string{"user"}, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		abort(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:       token,
		ExpiresAt:   expires,
		WorkspaceID: user.ID,
		User:        user.ToUserInfo(),
	})
}

// GetWizard godoc
// @Summary Get wizard state
// @Description Return the caller's wizard state and per-step validation
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard [get]
func (h *Handler) GetWizard(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.respond(c, http.StatusOK, sess, nil, "")
}

// Next godoc
// @Summary Advance to the next step
// @Description Validate the current step and move forward; a step in error stays put
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /wizard/next [post]
func (h *Handler) Next(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	res, err := sess.Wizard.Next(c.Request.Context())
	if err != nil {
		h.fail(c, err, res)
		return
	}
	h.respond(c, http.StatusOK, sess, &res, "")
}

// Back godoc
// @Summary Go back one step
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/back [post]
func (h *Handler) Back(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Wizard.Back(c.Request.Context()); err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	h.respond(c, http.StatusOK, sess, nil, "")
}

// GoTo godoc
// @Summary Jump to a reached step
// @Tags wizard
// @Produce json
// @Param step path string true "Step name or number"
// @Success 200 {object} WizardResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /wizard/goto/{step} [post]
func (h *Handler) GoTo(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	res, err := sess.Wizard.GoTo(c.Request.Context(), step)
	if err != nil {
		h.fail(c, err, res)
		return
	}
	h.respond(c, http.StatusOK, sess, &res, "")
}

// SkipSecurity godoc
// @Summary Skip the security step with default guardrails
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/skip-security [post]
func (h *Handler) SkipSecurity(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Wizard.SkipSecurity(c.Request.Context()); err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	h.respond(c, http.StatusOK, sess, nil, "")
}

// StartOver godoc
// @Summary Discard the wizard session
// @Description Asks for confirmation over the websocket; outcome is "reset" or "cancelled"
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/start-over [post]
func (h *Handler) StartOver(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	reset, err := sess.Wizard.StartOver(c.Request.Context())
	if err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	outcome := "cancelled"
	if reset {
		outcome = "reset"
	}
	h.respond(c, http.StatusOK, sess, nil, outcome)
}

// Resume godoc
// @Summary Restore the saved wizard session
// @Description Outcome is the snapshot status: loaded, not_found, version_mismatch or corrupted
// @Tags wizard
// @Produce json
// @Success 200 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/resume [post]
func (h *Handler) Resume(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	status, err := sess.Wizard.Resume(c.Request.Context())
	if err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	h.respond(c, http.StatusOK, sess, nil, string(status))
}

// Edit godoc
// @Summary Edit step content
// @Description Apply one typed edit operation to a step, e.g. add_metric or accept
// @Tags wizard
// @Accept json
// @Produce json
// @Param step path string true "Step name or number"
// @Param request body EditRequest true "Edit operation"
// @Success 200 {object} WizardResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /wizard/steps/{step}/edit [post]
func (h *Handler) Edit(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}
	sess, ok := h.session(c)
	if !ok || !h.reached(c, sess, step) {
		return
	}

	ctx := c.Request.Context()
	var err error
	if step == models.StepGenerate && req.Op == "set_include_roadmap" {
		var include bool
		if include, err = value[bool](req); err == nil {
			err = sess.Wizard.SetIncludeRoadmap(ctx, include)
		}
	} else {
		var fn editFunc
		if fn, err = lookupEdit(step, req.Op); err == nil {
			err = sess.Wizard.Apply(ctx, func(set *steps.Set) error { return fn(set, req) })
		}
	}
	if err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	h.respond(c, http.StatusOK, sess, nil, "")
}

// Regenerate godoc
// @Summary Regenerate a step's AI content
// @Tags wizard
// @Produce json
// @Param step path string true "Step name or number"
// @Param section query string false "Demo strategy section: aha, persona or narrative"
// @Success 202 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/steps/{step}/regenerate [post]
func (h *Handler) Regenerate(c *gin.Context) {
	h.converse(c, func(ctx context.Context, sess *Session, step models.Step, section steps.Section) error {
		return sess.Wizard.Regenerate(ctx, step, section)
	})
}

// Retry godoc
// @Summary Resend the last unanswered message
// @Tags wizard
// @Produce json
// @Param step path string true "Step name or number"
// @Param section query string false "Demo strategy section: aha, persona or narrative"
// @Success 202 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/steps/{step}/retry [post]
func (h *Handler) Retry(c *gin.Context) {
	h.converse(c, func(ctx context.Context, sess *Session, step models.Step, section steps.Section) error {
		return sess.Wizard.Retry(ctx, step, section)
	})
}

// SendMessage godoc
// @Summary Send a follow-up message
// @Description Agent design follow-ups adjust the proposed design
// @Tags wizard
// @Accept json
// @Produce json
// @Param step path string true "Step name or number"
// @Param request body MessageRequest true "Message"
// @Success 202 {object} WizardResponse
// @Security BearerAuth
// @Router /wizard/steps/{step}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}
	if req.Section != "" {
		c.Request.URL.RawQuery = "section=" + req.Section
	}
	h.converse(c, func(ctx context.Context, sess *Session, step models.Step, section steps.Section) error {
		return sess.Wizard.SendMessage(ctx, step, section, req.Text)
	})
}

func (h *Handler) converse(c *gin.Context, fn func(context.Context, *Session, models.Step, steps.Section) error) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var section steps.Section
	if s := c.Query("section"); s != "" {
		var err error
		if section, err = steps.ParseSection(s); err != nil {
			h.fail(c, err, validation.Result{})
			return
		}
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), sess, step, section); err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	// Tokens arrive over the websocket.
	h.respond(c, http.StatusAccepted, sess, nil, "")
}

// Generate godoc
// @Summary Generate the project files
// @Description Starts the pipeline in the background; progress arrives over the websocket
// @Tags generation
// @Produce json
// @Success 202 {object} WizardResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /wizard/generate [post]
func (h *Handler) Generate(c *gin.Context) {
	h.startGeneration(c, false)
}

// RetryGeneration godoc
// @Summary Retry generation from the failed artifact
// @Tags generation
// @Produce json
// @Success 202 {object} WizardResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /wizard/generate/retry [post]
func (h *Handler) RetryGeneration(c *gin.Context) {
	h.startGeneration(c, true)
}

func (h *Handler) startGeneration(c *gin.Context, retry bool) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	state, err := sess.Wizard.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	// The sequencer checks the same conditions again once the run starts.
	switch gs := state.Generation; {
	case state.CurrentStep != models.StepGenerate:
		h.fail(c, wizard.ErrNotOnGenerateStep, validation.Result{})
		return
	case gs.Phase == models.PhaseGenerating:
		h.fail(c, wizard.ErrGenerationRunning, validation.Result{})
		return
	case retry && (gs.Phase != models.PhasePartialFailure || gs.FailedArtifact == nil):
		h.fail(c, wizard.ErrNothingToRetry, validation.Result{})
		return
	case !retry && !validation.CanAdvance(state):
		h.fail(c, wizard.ErrGenerationBlocked, validation.Result{})
		return
	}

	run := sess.Wizard.Generate
	if retry {
		run = sess.Wizard.RetryGeneration
	}
	logger := h.logger.With(zap.String("workspace_id", sess.WorkspaceID), zap.Bool("retry", retry))
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if err := run(h.runCtx); err != nil {
			logger.Warn("generation stopped", zap.Error(err))
			return
		}
		logger.Info("generation run finished")
	}()

	h.respond(c, http.StatusAccepted, sess, nil, "")
}

// StreamWizard handles WebSocket /api/ws/wizard
// @Summary Stream wizard state and prompts
// @Description Pushes state_sync, rerender and notification events; accepts reply events for prompts
// @Tags wizard
// @Param access_token query string false "JWT when the Authorization header cannot be set"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/wizard [get]
func (h *Handler) StreamWizard(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	if err := sess.Hub.Serve(c.Request.Context(), conn); err != nil {
		h.logger.Debug("websocket closed", zap.String("workspace_id", sess.WorkspaceID), zap.Error(err))
	}
}

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	sess, err := h.sessions.Get(c.Request.Context(), auth.WorkspaceID(c))
	if err != nil {
		h.logger.Error("failed to open wizard session", zap.Error(err))
		abort(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to open wizard session")
		return nil, false
	}
	return sess, true
}

func (h *Handler) reached(c *gin.Context, sess *Session, step models.Step) bool {
	state, err := sess.Wizard.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err, validation.Result{})
		return false
	}
	if step > state.HighestStepReached {
		h.fail(c, wizard.ErrStepLocked, validation.Result{})
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context, status int, sess *Session, res *validation.Result, outcome string) {
	state, err := sess.Wizard.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err, validation.Result{})
		return
	}
	c.JSON(status, WizardResponse{
		State:      state,
		Summary:    validation.Summary(state),
		Validation: res,
		Outcome:    outcome,
	})
}

// fail maps err onto an error response. res carries the validation verdict
// of navigation errors.
func (h *Handler) fail(c *gin.Context, err error, res validation.Result) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("wizard operation failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	resp := models.ErrorResponse{Error: err.Error(), Code: code}
	if res.Message != "" {
		resp.Details = map[string]string{"status": string(res.Status), "message": res.Message}
	}
	c.AbortWithStatusJSON(status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, wizard.ErrValidationFailed):
		return http.StatusUnprocessableEntity, models.ErrCodeValidationFailed
	case errors.Is(err, wizard.ErrGenerationBlocked):
		return http.StatusUnprocessableEntity, models.ErrCodeGenerationBlocked
	case errors.Is(err, wizard.ErrStepLocked):
		return http.StatusConflict, models.ErrCodeStepLocked
	case errors.Is(err, stream.ErrInFlight):
		return http.StatusConflict, models.ErrCodeStreamInFlight
	case errors.Is(err, wizard.ErrGenerationRunning),
		errors.Is(err, wizard.ErrNotOnGenerateStep),
		errors.Is(err, wizard.ErrNothingToRetry),
		errors.Is(err, wizard.ErrNotSkippable),
		errors.Is(err, steps.ErrNothingToRetry),
		errors.Is(err, generation.ErrInvalidTransition):
		return http.StatusConflict, models.ErrCodeInvalidTransition
	case errors.Is(err, steps.ErrIndexOutOfRange):
		return http.StatusBadRequest, models.ErrCodeIndexOutOfRange
	case errors.Is(err, wizard.ErrInvalidStep),
		errors.Is(err, steps.ErrInvalidValue),
		errors.Is(err, steps.ErrEmptyMessage),
		errors.Is(err, errUnknownOp):
		return http.StatusBadRequest, models.ErrCodeInvalidRequest
	case errors.Is(err, runloop.ErrStopped):
		return http.StatusServiceUnavailable, models.ErrCodeInternalError
	}
	return http.StatusInternalServerError, models.ErrCodeInternalError
}

func stepParam(c *gin.Context) (models.Step, bool) {
	raw := c.Param("step")
	step, ok := models.ParseStep(raw)
	if !ok {
		if n, err := strconv.Atoi(raw); err == nil && models.Step(n).Valid() {
			step, ok = models.Step(n), true
		}
	}
	if !ok {
		abort(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Unknown step "+strconv.Quote(raw))
		return 0, false
	}
	return step, true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: message, Code: code})
}
