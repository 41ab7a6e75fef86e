package steps

import (
	"context"
	"fmt"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// Assisted is implemented by the single-conversation step handlers.
type Assisted interface {
	AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error)
	RegenerateFrom(ctx context.Context, s *models.WizardState) error
	RetryFrom(ctx context.Context, s *models.WizardState) error
	SendFollowUp(ctx context.Context, text string) error
	Streaming() bool
	Wait(ctx context.Context) error
	Detach()
}

// Set is every handler of one session, bound to one WizardState.
type Set struct {
	BusinessContext *BusinessContext
	GapFilling      *GapFilling
	Outcome         *Outcome
	Security        *Security
	AgentDesign     *AgentDesign
	MockData        *MockData
	DemoStrategy    *DemoStrategy
}

func NewSet(s *models.WizardState, deps Deps) *Set {
	return &Set{
		BusinessContext: NewBusinessContext(&s.BusinessContext, deps),
		GapFilling:      NewGapFilling(&s.GapFilling, deps),
		Outcome:         NewOutcome(&s.Outcome, deps),
		Security:        NewSecurity(&s.Security, deps),
		AgentDesign:     NewAgentDesign(&s.AgentDesign, deps),
		MockData:        NewMockData(&s.MockData, deps),
		DemoStrategy:    NewDemoStrategy(&s.DemoStrategy, deps),
	}
}

// Assisted returns the conversation handler of step, if it has exactly one.
func (s *Set) Assisted(step models.Step) (Assisted, bool) {
	switch step {
	case models.StepGapFilling:
		return s.GapFilling, true
	case models.StepOutcome:
		return s.Outcome, true
	case models.StepSecurity:
		return s.Security, true
	case models.StepAgentDesign:
		return s.AgentDesign, true
	case models.StepMockData:
		return s.MockData, true
	}
	return nil, false
}

// Enter runs the entry auto-send of step. Steps without a conversation are
// a no-op.
func (s *Set) Enter(ctx context.Context, step models.Step, ws *models.WizardState) (bool, error) {
	if step == models.StepDemoStrategy {
		return s.DemoStrategy.AutoSendFrom(ctx, ws)
	}
	if h, ok := s.Assisted(step); ok {
		return h.AutoSendFrom(ctx, ws)
	}
	return false, nil
}

// Regenerate clears the conversation of step and asks again. section is
// only used by the demo strategy step.
func (s *Set) Regenerate(ctx context.Context, step models.Step, section Section, ws *models.WizardState) error {
	if step == models.StepDemoStrategy {
		return s.DemoStrategy.RegenerateSection(ctx, ws, sectionOrDefault(section))
	}
	if h, ok := s.Assisted(step); ok {
		return h.RegenerateFrom(ctx, ws)
	}
	return fmt.Errorf("step %s has no conversation: %w", step, ErrInvalidValue)
}

func (s *Set) Retry(ctx context.Context, step models.Step, section Section, ws *models.WizardState) error {
	if step == models.StepDemoStrategy {
		return s.DemoStrategy.RetrySection(ctx, ws, sectionOrDefault(section))
	}
	if h, ok := s.Assisted(step); ok {
		return h.RetryFrom(ctx, ws)
	}
	return fmt.Errorf("step %s has no conversation: %w", step, ErrInvalidValue)
}

func (s *Set) FollowUp(ctx context.Context, step models.Step, section Section, text string) error {
	if step == models.StepDemoStrategy {
		return s.DemoStrategy.GenerateSection(ctx, sectionOrDefault(section), text)
	}
	if step == models.StepAgentDesign {
		return s.AgentDesign.AdjustDesign(ctx, text)
	}
	if h, ok := s.Assisted(step); ok {
		return h.SendFollowUp(ctx, text)
	}
	return fmt.Errorf("step %s has no conversation: %w", step, ErrInvalidValue)
}

// Streaming reports whether any conversation of the session is streaming.
func (s *Set) Streaming() bool {
	for _, step := range []models.Step{models.StepGapFilling, models.StepOutcome, models.StepSecurity, models.StepAgentDesign, models.StepMockData} {
		if h, _ := s.Assisted(step); h.Streaming() {
			return true
		}
	}
	return s.DemoStrategy.Streaming()
}

// Wait blocks until the most recent send of every conversation has settled.
func (s *Set) Wait(ctx context.Context) error {
	for _, step := range []models.Step{models.StepGapFilling, models.StepOutcome, models.StepSecurity, models.StepAgentDesign, models.StepMockData} {
		h, _ := s.Assisted(step)
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return s.DemoStrategy.Wait(ctx)
}

// Detach turns every later stream event of this session into a no-op.
func (s *Set) Detach() {
	s.GapFilling.Detach()
	s.Outcome.Detach()
	s.Security.Detach()
	s.AgentDesign.Detach()
	s.MockData.Detach()
	s.DemoStrategy.Detach()
}

func sectionOrDefault(s Section) Section {
	if s == "" {
		return SectionAha
	}
	return s
}
