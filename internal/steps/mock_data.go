package steps

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

const MockDataConversation = "mock-data"

// MockData drives step 6.
type MockData struct {
	*Conversation[MockDataInputs]
	state *models.MockDataState
	deps  Deps
}

func NewMockData(state *models.MockDataState, deps Deps) *MockData {
	deps = deps.withDefaults()
	h := &MockData{state: state, deps: deps}
	h.Conversation = newConversation(MockDataConversation, &state.Conversation, deps, mockDataPrompt, h.apply)
	return h
}

func (h *MockData) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	return h.AutoSend(ctx, MockDataInputsFrom(s))
}

func (h *MockData) RegenerateFrom(ctx context.Context, s *models.WizardState) error {
	return h.Regenerate(ctx, MockDataInputsFrom(s))
}

func (h *MockData) RetryFrom(ctx context.Context, s *models.WizardState) error {
	return h.RetryWith(ctx, MockDataInputsFrom(s))
}

func (h *MockData) apply(text string) (json.RawMessage, bool) {
	var defs []models.MockDefinition
	for _, item := range items(text, "mockDefinitions", "definitions", "tools") {
		d := models.MockDefinition{
			Tool:          str(item, "tool", "name"),
			System:        str(item, "system"),
			Operation:     str(item, "operation", "method"),
			Description:   str(item, "description"),
			RequestFields: stringsOf(item, "requestFields", "parameters"),
			SampleRecords: records(item, "sampleRecords", "sampleData", "records"),
		}
		if d.Tool != "" {
			defs = append(defs, d)
		}
	}
	if len(defs) == 0 {
		return nil, false
	}
	h.state.Definitions = defs
	return encode(defs), true
}

func (h *MockData) AddDefinition(d models.MockDefinition) error {
	if strings.TrimSpace(d.Tool) == "" {
		return ErrInvalidValue
	}
	h.state.Definitions = append(h.state.Definitions, d)
	h.deps.Host.Changed()
	return nil
}

func (h *MockData) UpdateDefinition(i int, d models.MockDefinition) error {
	if i < 0 || i >= len(h.state.Definitions) {
		return ErrIndexOutOfRange
	}
	if strings.TrimSpace(d.Tool) == "" {
		return ErrInvalidValue
	}
	h.state.Definitions[i] = d
	h.deps.Host.Changed()
	return nil
}

func (h *MockData) RemoveDefinition(i int) error {
	if i < 0 || i >= len(h.state.Definitions) {
		return ErrIndexOutOfRange
	}
	h.state.Definitions = slices.Delete(h.state.Definitions, i, i+1)
	h.deps.Host.Changed()
	return nil
}
