package steps

import (
	"context"
	"encoding/json"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

const GapFillingConversation = "gap-filling"

// GapFilling drives step 2: system assumptions proposed by the model and
// confirmed by the user.
type GapFilling struct {
	*Conversation[GapFillingInputs]
	state *models.GapFillingState
	deps  Deps
}

func NewGapFilling(state *models.GapFillingState, deps Deps) *GapFilling {
	deps = deps.withDefaults()
	h := &GapFilling{state: state, deps: deps}
	h.Conversation = newConversation(GapFillingConversation, &state.Conversation, deps, gapFillingPrompt, h.apply)
	return h
}

// AutoSendFrom runs the entry auto-send with inputs derived from s.
func (h *GapFilling) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	return h.AutoSend(ctx, GapFillingInputsFrom(s))
}

func (h *GapFilling) RegenerateFrom(ctx context.Context, s *models.WizardState) error {
	return h.Regenerate(ctx, GapFillingInputsFrom(s))
}

func (h *GapFilling) RetryFrom(ctx context.Context, s *models.WizardState) error {
	return h.RetryWith(ctx, GapFillingInputsFrom(s))
}

// apply replaces model-sourced assumptions and keeps the user's own.
func (h *GapFilling) apply(text string) (json.RawMessage, bool) {
	var proposed []models.SystemAssumption
	for _, item := range items(text, "assumptions", "systems") {
		a := models.SystemAssumption{
			System:       str(item, "system", "name"),
			Modules:      stringsOf(item, "modules"),
			Integrations: stringsOf(item, "integrations", "integrationPoints"),
			Source:       models.SourceAI,
		}
		if a.System != "" {
			proposed = append(proposed, a)
		}
	}
	if len(proposed) == 0 {
		return nil, false
	}

	for _, a := range h.state.Assumptions {
		if a.Source == models.SourceUser {
			proposed = append(proposed, a)
		}
	}
	h.state.Assumptions = proposed
	h.state.Confirmed = false
	return encode(proposed), true
}

func (h *GapFilling) AddAssumption(a models.SystemAssumption) error {
	if a.System == "" {
		return ErrInvalidValue
	}
	a.Source = models.SourceUser
	h.state.Assumptions = append(h.state.Assumptions, a)
	h.state.Confirmed = false
	h.deps.Host.Changed()
	return nil
}

// UpdateAssumption replaces an assumption; edited entries count as the user's.
func (h *GapFilling) UpdateAssumption(i int, a models.SystemAssumption) error {
	if i < 0 || i >= len(h.state.Assumptions) {
		return ErrIndexOutOfRange
	}
	if a.System == "" {
		return ErrInvalidValue
	}
	a.Source = models.SourceUser
	h.state.Assumptions[i] = a
	h.state.Confirmed = false
	h.deps.Host.Changed()
	return nil
}

func (h *GapFilling) RemoveAssumption(i int) error {
	if i < 0 || i >= len(h.state.Assumptions) {
		return ErrIndexOutOfRange
	}
	h.state.Assumptions = append(h.state.Assumptions[:i:i], h.state.Assumptions[i+1:]...)
	h.state.Confirmed = false
	h.deps.Host.Changed()
	return nil
}

// Confirm accepts the assumptions and saves immediately.
func (h *GapFilling) Confirm() error {
	if len(h.state.Assumptions) == 0 {
		return ErrInvalidValue
	}
	h.state.Confirmed = true
	h.deps.Host.Commit()
	return nil
}
