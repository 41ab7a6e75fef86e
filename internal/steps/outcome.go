package steps

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

const OutcomeConversation = "outcome"

// Outcome drives step 3.
type Outcome struct {
	*Conversation[OutcomeInputs]
	state *models.OutcomeState
	deps  Deps
}

type outcomeSuggestion struct {
	PrimaryOutcome string                 `json:"primaryOutcome,omitempty"`
	SuccessMetrics []models.SuccessMetric `json:"successMetrics,omitempty"`
	Stakeholders   []string               `json:"stakeholders,omitempty"`
}

func NewOutcome(state *models.OutcomeState, deps Deps) *Outcome {
	deps = deps.withDefaults()
	h := &Outcome{state: state, deps: deps}
	h.Conversation = newConversation(OutcomeConversation, &state.Conversation, deps, outcomePrompt, h.apply)
	return h
}

func (h *Outcome) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	return h.AutoSend(ctx, OutcomeInputsFrom(s))
}

func (h *Outcome) RegenerateFrom(ctx context.Context, s *models.WizardState) error {
	return h.Regenerate(ctx, OutcomeInputsFrom(s))
}

func (h *Outcome) RetryFrom(ctx context.Context, s *models.WizardState) error {
	return h.RetryWith(ctx, OutcomeInputsFrom(s))
}

func (h *Outcome) apply(text string) (json.RawMessage, bool) {
	r, ok := object(text, "outcome")
	if !ok {
		return nil, false
	}

	var sug outcomeSuggestion
	sug.PrimaryOutcome = str(r, "primaryOutcome", "primary_outcome", "outcome")
	for _, m := range r.Get("successMetrics").Array() {
		metric := models.SuccessMetric{
			Name:   str(m, "name", "metric"),
			Target: str(m, "target", "value"),
			Unit:   str(m, "unit"),
		}
		if metric.Name != "" {
			sug.SuccessMetrics = append(sug.SuccessMetrics, metric)
		}
	}
	sug.Stakeholders = stringsOf(r, "stakeholders")
	if sug.PrimaryOutcome == "" && len(sug.SuccessMetrics) == 0 {
		return nil, false
	}

	if sug.PrimaryOutcome != "" {
		h.state.PrimaryOutcome = sug.PrimaryOutcome
	}
	if len(sug.SuccessMetrics) > 0 {
		h.state.SuccessMetrics = sug.SuccessMetrics
	}
	if len(sug.Stakeholders) > 0 {
		h.state.Stakeholders = sug.Stakeholders
	}
	return encode(sug), true
}

func (h *Outcome) SetPrimaryOutcome(v string) {
	h.state.PrimaryOutcome = strings.TrimSpace(v)
	h.deps.Host.Changed()
}

func (h *Outcome) AddMetric(m models.SuccessMetric) error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrInvalidValue
	}
	h.state.SuccessMetrics = append(h.state.SuccessMetrics, m)
	h.deps.Host.Changed()
	return nil
}

func (h *Outcome) UpdateMetric(i int, m models.SuccessMetric) error {
	if i < 0 || i >= len(h.state.SuccessMetrics) {
		return ErrIndexOutOfRange
	}
	if strings.TrimSpace(m.Name) == "" {
		return ErrInvalidValue
	}
	h.state.SuccessMetrics[i] = m
	h.deps.Host.Changed()
	return nil
}

func (h *Outcome) RemoveMetric(i int) error {
	if i < 0 || i >= len(h.state.SuccessMetrics) {
		return ErrIndexOutOfRange
	}
	h.state.SuccessMetrics = slices.Delete(h.state.SuccessMetrics, i, i+1)
	h.deps.Host.Changed()
	return nil
}

// ToggleStakeholder adds name when absent and removes it otherwise.
func (h *Outcome) ToggleStakeholder(name string) {
	h.state.Stakeholders = toggle(h.state.Stakeholders, strings.TrimSpace(name))
	h.deps.Host.Changed()
}

func toggle(list []string, v string) []string {
	if v == "" {
		return list
	}
	if i := slices.Index(list, v); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return append(list, v)
}
