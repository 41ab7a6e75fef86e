package steps

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"unicode"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

const AgentDesignConversation = "agent-design"

// AgentDesign drives step 5: the agent team, its orchestration pattern and
// the edges between agents.
type AgentDesign struct {
	*Conversation[AgentDesignInputs]
	state *models.AgentDesignState
	deps  Deps
}

type designProposal struct {
	Pattern string             `json:"pattern,omitempty"`
	Agents  []models.AgentSpec `json:"agents"`
	Edges   []models.AgentEdge `json:"edges,omitempty"`
}

func NewAgentDesign(state *models.AgentDesignState, deps Deps) *AgentDesign {
	deps = deps.withDefaults()
	h := &AgentDesign{state: state, deps: deps}
	h.Conversation = newConversation(AgentDesignConversation, &state.Conversation, deps, agentDesignPrompt, h.apply)
	return h
}

func (h *AgentDesign) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	return h.AutoSend(ctx, AgentDesignInputsFrom(s))
}

func (h *AgentDesign) RegenerateFrom(ctx context.Context, s *models.WizardState) error {
	return h.Regenerate(ctx, AgentDesignInputsFrom(s))
}

func (h *AgentDesign) RetryFrom(ctx context.Context, s *models.WizardState) error {
	return h.RetryWith(ctx, AgentDesignInputsFrom(s))
}

// agentID turns a display name into a python-friendly identifier.
func agentID(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func (h *AgentDesign) apply(text string) (json.RawMessage, bool) {
	r, ok := object(text, "design", "agentDesign")
	if !ok {
		return nil, false
	}

	var p designProposal
	for _, item := range r.Get("agents").Array() {
		a := models.AgentSpec{
			ID:    str(item, "id"),
			Name:  str(item, "name"),
			Role:  str(item, "role", "description"),
			Tools: stringsOf(item, "tools"),
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.ID == "" {
			a.ID = agentID(a.Name)
		}
		if a.ID != "" {
			p.Agents = append(p.Agents, a)
		}
	}
	if len(p.Agents) == 0 {
		return nil, false
	}
	for _, item := range r.Get("edges").Array() {
		e := models.AgentEdge{
			From:      str(item, "from", "source"),
			To:        str(item, "to", "target"),
			Condition: str(item, "condition"),
		}
		if e.From != "" && e.To != "" {
			p.Edges = append(p.Edges, e)
		}
	}
	if pattern := strings.ToLower(str(r, "pattern", "orchestrationPattern")); models.ValidPattern(pattern) {
		p.Pattern = pattern
		h.state.Pattern = pattern
	}

	h.state.Agents = p.Agents
	h.state.Edges = p.Edges
	h.state.Accepted = false
	return encode(p), true
}

func (h *AgentDesign) SetPattern(p string) error {
	if !models.ValidPattern(p) {
		return ErrInvalidValue
	}
	h.state.Pattern = p
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

func (h *AgentDesign) indexOf(id string) int {
	return slices.IndexFunc(h.state.Agents, func(a models.AgentSpec) bool { return a.ID == id })
}

func (h *AgentDesign) AddAgent(a models.AgentSpec) error {
	if a.ID == "" {
		a.ID = agentID(a.Name)
	}
	if a.ID == "" || h.indexOf(a.ID) >= 0 {
		return ErrInvalidValue
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	h.state.Agents = append(h.state.Agents, a)
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

// UpdateAgent replaces agent i. Renaming the id rewires its edges.
func (h *AgentDesign) UpdateAgent(i int, a models.AgentSpec) error {
	if i < 0 || i >= len(h.state.Agents) {
		return ErrIndexOutOfRange
	}
	old := h.state.Agents[i].ID
	if a.ID == "" {
		a.ID = old
	}
	if j := h.indexOf(a.ID); j >= 0 && j != i {
		return ErrInvalidValue
	}
	h.state.Agents[i] = a
	if a.ID != old {
		for k := range h.state.Edges {
			if h.state.Edges[k].From == old {
				h.state.Edges[k].From = a.ID
			}
			if h.state.Edges[k].To == old {
				h.state.Edges[k].To = a.ID
			}
		}
	}
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

// RemoveAgent drops agent i and every edge touching it.
func (h *AgentDesign) RemoveAgent(i int) error {
	if i < 0 || i >= len(h.state.Agents) {
		return ErrIndexOutOfRange
	}
	id := h.state.Agents[i].ID
	h.state.Agents = slices.Delete(h.state.Agents, i, i+1)
	h.state.Edges = slices.DeleteFunc(h.state.Edges, func(e models.AgentEdge) bool {
		return e.From == id || e.To == id
	})
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

func (h *AgentDesign) AddEdge(e models.AgentEdge) error {
	if h.indexOf(e.From) < 0 || h.indexOf(e.To) < 0 {
		return ErrInvalidValue
	}
	h.state.Edges = append(h.state.Edges, e)
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

func (h *AgentDesign) RemoveEdge(i int) error {
	if i < 0 || i >= len(h.state.Edges) {
		return ErrIndexOutOfRange
	}
	h.state.Edges = slices.Delete(h.state.Edges, i, i+1)
	h.state.Accepted = false
	h.deps.Host.Changed()
	return nil
}

// Accept locks in the design and saves immediately.
func (h *AgentDesign) Accept() error {
	if len(h.state.Agents) == 0 {
		return ErrInvalidValue
	}
	h.state.Accepted = true
	h.deps.Host.Commit()
	return nil
}

// AdjustDesign asks the model to revise the current design.
func (h *AgentDesign) AdjustDesign(ctx context.Context, instruction string) error {
	if err := h.SendFollowUp(ctx, instruction); err != nil {
		return err
	}
	h.state.Accepted = false
	return nil
}
