package steps

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

const SecurityConversation = "security"

// Security drives the optional step 4. Model suggestions only fill fields
// the user has left empty.
type Security struct {
	*Conversation[SecurityInputs]
	state *models.SecurityState
	deps  Deps
}

type securitySuggestion struct {
	DataSensitivity      string   `json:"dataSensitivity,omitempty"`
	ComplianceFrameworks []string `json:"complianceFrameworks,omitempty"`
	ApprovalGates        []string `json:"approvalGates,omitempty"`
	GuardrailNotes       string   `json:"guardrailNotes,omitempty"`
}

func NewSecurity(state *models.SecurityState, deps Deps) *Security {
	deps = deps.withDefaults()
	h := &Security{state: state, deps: deps}
	h.Conversation = newConversation(SecurityConversation, &state.Conversation, deps, securityPrompt, h.apply)
	return h
}

func (h *Security) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	return h.AutoSend(ctx, SecurityInputsFrom(s))
}

func (h *Security) RegenerateFrom(ctx context.Context, s *models.WizardState) error {
	return h.Regenerate(ctx, SecurityInputsFrom(s))
}

func (h *Security) RetryFrom(ctx context.Context, s *models.WizardState) error {
	return h.RetryWith(ctx, SecurityInputsFrom(s))
}

func validSensitivity(v string) bool {
	switch v {
	case models.SensitivityPublic, models.SensitivityInternal, models.SensitivityConfidential, models.SensitivityRestricted:
		return true
	}
	return false
}

func (h *Security) apply(text string) (json.RawMessage, bool) {
	r, ok := object(text, "security")
	if !ok {
		return nil, false
	}
	sug := securitySuggestion{
		DataSensitivity:      strings.ToLower(str(r, "dataSensitivity", "sensitivity")),
		ComplianceFrameworks: stringsOf(r, "complianceFrameworks", "frameworks"),
		ApprovalGates:        stringsOf(r, "approvalGates", "humanApprovalGates"),
		GuardrailNotes:       str(r, "guardrailNotes", "guardrails"),
	}
	if !validSensitivity(sug.DataSensitivity) {
		sug.DataSensitivity = ""
	}
	if sug.DataSensitivity == "" && len(sug.ComplianceFrameworks) == 0 && len(sug.ApprovalGates) == 0 && sug.GuardrailNotes == "" {
		return nil, false
	}

	if h.state.DataSensitivity == "" {
		h.state.DataSensitivity = sug.DataSensitivity
	}
	if len(h.state.ComplianceFrameworks) == 0 {
		h.state.ComplianceFrameworks = sug.ComplianceFrameworks
	}
	if len(h.state.ApprovalGates) == 0 {
		h.state.ApprovalGates = sug.ApprovalGates
	}
	if h.state.GuardrailNotes == "" {
		h.state.GuardrailNotes = sug.GuardrailNotes
	}
	return encode(sug), true
}

func (h *Security) SetDataSensitivity(v string) error {
	if !validSensitivity(v) {
		return ErrInvalidValue
	}
	h.state.DataSensitivity = v
	h.state.Skipped = false
	h.deps.Host.Changed()
	return nil
}

func (h *Security) ToggleFramework(name string) {
	h.state.ComplianceFrameworks = toggle(h.state.ComplianceFrameworks, strings.TrimSpace(name))
	h.state.Skipped = false
	h.deps.Host.Changed()
}

func (h *Security) ToggleApprovalGate(name string) {
	h.state.ApprovalGates = toggle(h.state.ApprovalGates, strings.TrimSpace(name))
	h.state.Skipped = false
	h.deps.Host.Changed()
}

func (h *Security) SetGuardrailNotes(v string) {
	h.state.GuardrailNotes = strings.TrimSpace(v)
	h.state.Skipped = false
	h.deps.Host.Changed()
}

// Skip records that the user opted out and applies the default guardrails.
func (h *Security) Skip() {
	h.state.Skipped = true
	if h.state.GuardrailNotes == "" {
		h.state.GuardrailNotes = models.DefaultGuardrailNotes
	}
	h.deps.Host.Commit()
}
