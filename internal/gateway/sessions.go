package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/wizard"
	"go.uber.org/zap"
)

// Factory builds the wizard for a workspace around its hub. The returned
// close function flushes whatever the wizard still has to persist.
type Factory func(ctx context.Context, workspaceID string, hub *Hub) (*wizard.Sequencer, func(context.Context) error, error)

// Session is the live wizard of one workspace.
type Session struct {
	WorkspaceID string
	Wizard      *wizard.Sequencer
	Hub         *Hub

	close func(context.Context) error
}

// Sessions lazily creates one Session per workspace.
type Sessions struct {
	factory       Factory
	logger        *zap.Logger
	promptTimeout time.Duration

	mu   sync.Mutex
	live map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(factory Factory, logger *zap.Logger, promptTimeout time.Duration) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		factory:       factory,
		logger:        logger,
		promptTimeout: promptTimeout,
		live:          make(map[string]*Session),
	}
}

// Get returns the session of workspaceID, creating it on first use.
func (s *Sessions) Get(ctx context.Context, workspaceID string) (*Session, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.live[workspaceID]; ok {
		return sess, nil
	}

	hub := NewHub(workspaceID, s.logger, s.promptTimeout)
	seq, closeFn, err := s.factory(ctx, workspaceID, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to create wizard session: %w", err)
	}
	sess := &Session{WorkspaceID: workspaceID, Wizard: seq, Hub: hub, close: closeFn}
	s.live[workspaceID] = sess
	s.logger.Info("wizard session created", zap.String("workspace_id", workspaceID))
	return sess, nil
}

// Close disconnects every client and flushes every session.
func (s *Sessions) Close(ctx context.Context) error {
	s.mu.Lock()
	live := s.live
	s.live = make(map[string]*Session)
	s.mu.Unlock()

	var errs []error
	for id, sess := range live {
		sess.Hub.Close()
		if sess.close == nil {
			continue
		}
		if err := sess.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
