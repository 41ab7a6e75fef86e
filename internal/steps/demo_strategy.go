package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"go.uber.org/zap"
)

const (
	DemoAhaConversation       = "demo-aha"
	DemoPersonaConversation   = "demo-persona"
	DemoNarrativeConversation = "demo-narrative"
)

// Section names one of the demo strategy conversations.
type Section string

const (
	SectionAha       Section = "aha"
	SectionPersona   Section = "persona"
	SectionNarrative Section = "narrative"
)

// ParseSection validates a section name.
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionAha, SectionPersona, SectionNarrative:
		return Section(s), nil
	}
	return "", fmt.Errorf("unknown demo section %q: %w", s, ErrInvalidValue)
}

// DemoStrategy drives step 7. Its three conversations share one coordinator
// and run in sequence on entry: aha moments, persona, then the narrative,
// which builds on the other two.
type DemoStrategy struct {
	Aha       *Conversation[DemoInputs]
	Persona   *Conversation[DemoInputs]
	Narrative *Conversation[NarrativeInputs]

	state    *models.DemoStrategyState
	deps     Deps
	upstream DemoInputs
	primed   bool
}

func NewDemoStrategy(state *models.DemoStrategyState, deps Deps) *DemoStrategy {
	deps = deps.withDefaults()
	h := &DemoStrategy{state: state, deps: deps}
	h.Aha = newConversation(DemoAhaConversation, &state.AhaConversation, deps, ahaPrompt, h.applyAha)
	h.Persona = newConversation(DemoPersonaConversation, &state.PersonaConversation, deps, personaPrompt, h.applyPersona)
	h.Narrative = newConversation(DemoNarrativeConversation, &state.NarrativeConversation, deps, narrativePrompt, h.applyNarrative)
	h.Persona.coord = h.Aha.coord
	h.Narrative.coord = h.Aha.coord

	h.Aha.afterComplete = func() { h.chain(h.sendPersona) }
	h.Persona.afterComplete = func() { h.chain(h.sendNarrative) }
	return h
}

func (h *DemoStrategy) chain(next func(context.Context) (bool, error)) {
	if !h.primed {
		return
	}
	if _, err := next(context.Background()); err != nil {
		h.deps.Logger.Warn("demo strategy follow-on section not sent", zap.Error(err))
	}
}

// AutoSendFrom starts the entry sequence. Sections whose inputs are
// unchanged are skipped.
func (h *DemoStrategy) AutoSendFrom(ctx context.Context, s *models.WizardState) (bool, error) {
	h.upstream = DemoInputsFrom(s)
	h.primed = true
	sent, err := h.Aha.AutoSend(ctx, h.upstream)
	if err != nil || sent {
		return sent, err
	}
	return h.sendPersona(ctx)
}

func (h *DemoStrategy) sendPersona(ctx context.Context) (bool, error) {
	sent, err := h.Persona.AutoSend(ctx, h.upstream)
	if err != nil || sent {
		return sent, err
	}
	return h.sendNarrative(ctx)
}

func (h *DemoStrategy) sendNarrative(ctx context.Context) (bool, error) {
	return h.Narrative.AutoSend(ctx, h.narrativeInputs())
}

func (h *DemoStrategy) narrativeInputs() NarrativeInputs {
	return NarrativeInputs{
		DemoInputs: h.upstream,
		AhaMoments: h.state.AhaMoments,
		Persona:    h.state.Persona,
	}
}

// Streaming reports whether any section is streaming.
func (h *DemoStrategy) Streaming() bool {
	return h.Aha.Streaming() || h.Persona.Streaming() || h.Narrative.Streaming()
}

func (h *DemoStrategy) Detach() {
	h.Aha.Detach()
	h.Persona.Detach()
	h.Narrative.Detach()
}

// Wait blocks until the entry sequence has settled.
func (h *DemoStrategy) Wait(ctx context.Context) error {
	for _, wait := range []func(context.Context) error{h.Aha.Wait, h.Persona.Wait, h.Narrative.Wait} {
		if err := wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RegenerateSection clears one section's conversation and asks again.
// The sections share a coordinator, so nothing is touched while any of
// them streams.
func (h *DemoStrategy) RegenerateSection(ctx context.Context, s *models.WizardState, section Section) error {
	if h.Streaming() {
		return stream.ErrInFlight
	}
	h.upstream = DemoInputsFrom(s)
	h.primed = true
	switch section {
	case SectionAha:
		return h.Aha.Regenerate(ctx, h.upstream)
	case SectionPersona:
		return h.Persona.Regenerate(ctx, h.upstream)
	case SectionNarrative:
		return h.Narrative.Regenerate(ctx, h.narrativeInputs())
	}
	return ErrInvalidValue
}

func (h *DemoStrategy) RetrySection(ctx context.Context, s *models.WizardState, section Section) error {
	if h.Streaming() {
		return stream.ErrInFlight
	}
	h.upstream = DemoInputsFrom(s)
	switch section {
	case SectionAha:
		return h.Aha.RetryWith(ctx, h.upstream)
	case SectionPersona:
		return h.Persona.RetryWith(ctx, h.upstream)
	case SectionNarrative:
		return h.Narrative.RetryWith(ctx, h.narrativeInputs())
	}
	return ErrInvalidValue
}

// GenerateSection sends a follow-up message in one section.
func (h *DemoStrategy) GenerateSection(ctx context.Context, section Section, text string) error {
	if h.Streaming() {
		return stream.ErrInFlight
	}
	switch section {
	case SectionAha:
		return h.Aha.SendFollowUp(ctx, text)
	case SectionPersona:
		return h.Persona.SendFollowUp(ctx, text)
	case SectionNarrative:
		return h.Narrative.SendFollowUp(ctx, text)
	}
	return ErrInvalidValue
}

func (h *DemoStrategy) applyAha(text string) (json.RawMessage, bool) {
	var moments []models.AhaMoment
	for _, item := range items(text, "ahaMoments", "moments") {
		m := models.AhaMoment{
			Title:        str(item, "title", "name"),
			Trigger:      str(item, "trigger"),
			TalkingPoint: str(item, "talkingPoint", "talking_point", "description"),
		}
		if m.Title != "" {
			moments = append(moments, m)
		}
	}
	if len(moments) == 0 {
		return nil, false
	}
	h.state.AhaMoments = moments
	return encode(moments), true
}

func (h *DemoStrategy) applyPersona(text string) (json.RawMessage, bool) {
	r, ok := object(text, "persona")
	if !ok {
		return nil, false
	}
	p := models.Persona{
		Name:      str(r, "name"),
		Role:      str(r, "role", "title"),
		PainPoint: str(r, "painPoint", "pain_point"),
		Goal:      str(r, "goal"),
	}
	if p.Name == "" {
		return nil, false
	}
	h.state.Persona = p
	return encode(p), true
}

func (h *DemoStrategy) applyNarrative(text string) (json.RawMessage, bool) {
	var scenes []models.NarrativeScene
	for _, item := range items(text, "scenes", "narrativeScenes", "narrative") {
		sc := models.NarrativeScene{
			Title:       str(item, "title", "name"),
			Description: str(item, "description"),
			Agents:      stringsOf(item, "agents"),
			Highlight:   str(item, "highlight"),
		}
		if sc.Title != "" {
			scenes = append(scenes, sc)
		}
	}
	if len(scenes) == 0 {
		return nil, false
	}
	h.state.NarrativeScenes = scenes
	return encode(scenes), true
}

func (h *DemoStrategy) AddAhaMoment(m models.AhaMoment) error {
	if strings.TrimSpace(m.Title) == "" {
		return ErrInvalidValue
	}
	h.state.AhaMoments = append(h.state.AhaMoments, m)
	h.deps.Host.Changed()
	return nil
}

func (h *DemoStrategy) UpdateAhaMoment(i int, m models.AhaMoment) error {
	if i < 0 || i >= len(h.state.AhaMoments) {
		return ErrIndexOutOfRange
	}
	h.state.AhaMoments[i] = m
	h.deps.Host.Changed()
	return nil
}

func (h *DemoStrategy) RemoveAhaMoment(i int) error {
	if i < 0 || i >= len(h.state.AhaMoments) {
		return ErrIndexOutOfRange
	}
	h.state.AhaMoments = slices.Delete(h.state.AhaMoments, i, i+1)
	h.deps.Host.Changed()
	return nil
}

func (h *DemoStrategy) SetPersona(p models.Persona) {
	h.state.Persona = p
	h.deps.Host.Changed()
}

func (h *DemoStrategy) AddScene(sc models.NarrativeScene) error {
	if strings.TrimSpace(sc.Title) == "" {
		return ErrInvalidValue
	}
	h.state.NarrativeScenes = append(h.state.NarrativeScenes, sc)
	h.deps.Host.Changed()
	return nil
}

func (h *DemoStrategy) UpdateScene(i int, sc models.NarrativeScene) error {
	if i < 0 || i >= len(h.state.NarrativeScenes) {
		return ErrIndexOutOfRange
	}
	h.state.NarrativeScenes[i] = sc
	h.deps.Host.Changed()
	return nil
}

func (h *DemoStrategy) RemoveScene(i int) error {
	if i < 0 || i >= len(h.state.NarrativeScenes) {
		return ErrIndexOutOfRange
	}
	h.state.NarrativeScenes = slices.Delete(h.state.NarrativeScenes, i, i+1)
	h.deps.Host.Changed()
	return nil
}

// MoveScene reorders the narrative.
func (h *DemoStrategy) MoveScene(from, to int) error {
	n := len(h.state.NarrativeScenes)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	sc := h.state.NarrativeScenes[from]
	scenes := slices.Delete(h.state.NarrativeScenes, from, from+1)
	h.state.NarrativeScenes = slices.Insert(scenes, to, sc)
	h.deps.Host.Changed()
	return nil
}
