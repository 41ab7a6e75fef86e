package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/notify/notifytest"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	producer *streamtest.Producer
	store    *persistence.MemoryStore
	files    *filestore.AferoStore
	rec      *notifytest.Recorder
	seq      *Sequencer

	mu    sync.Mutex
	calls map[string]int
	fails map[string]int
	gates map[string]chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := runloop.New()
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	f := &fixture{
		t:        t,
		ctx:      ctx,
		producer: streamtest.New(),
		store:    persistence.NewMemoryStore(),
		files:    filestore.New(afero.NewMemMapFs(), "/workspace"),
		rec:      notifytest.New(),
		calls:    map[string]int{},
		fails:    map[string]int{},
		gates:    map[string]chan struct{}{},
	}
	pipeline := generation.New([]generation.Artifact{
		f.artifact("product.md", true, nil),
		f.artifact("tech.md", true, nil),
		f.artifact("DEMO.md", false, generation.HasNarrative),
	}, f.files)

	f.seq = New(Config{
		Exec:        loop,
		Producer:    f.producer,
		Persistence: persistence.NewService(f.store, nil, persistence.WithDebounce(time.Hour)),
		Pipeline:    pipeline,
		UI:          f.rec,
		Notifier:    f.rec,
		Now:         func() time.Time { return savedAt },
	})
	return f
}

func (f *fixture) artifact(name string, required bool, gate func(*models.WizardState) bool) generation.Artifact {
	return generation.Artifact{
		Name:     name,
		Path:     "out/" + name,
		Required: required,
		Gate:     gate,
		Generator: generation.GeneratorFunc(func(_ context.Context, a generation.Artifact, _ generation.Input) ([]generation.File, error) {
			f.mu.Lock()
			f.calls[a.Name]++
			gate := f.gates[a.Name]
			f.mu.Unlock()
			if gate != nil {
				<-gate
			}

			f.mu.Lock()
			defer f.mu.Unlock()
			if f.fails[a.Name] > 0 {
				f.fails[a.Name]--
				return nil, errors.New("model unavailable")
			}
			return []generation.File{{Path: a.Path, Content: []byte(a.Name + " body")}}, nil
		}),
	}
}

func (f *fixture) failNext(name string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[name] = times
}

// hold blocks the generator of name until the returned channel is closed.
func (f *fixture) hold(name string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[name] = gate
	return gate
}

func (f *fixture) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fixture) state() *models.WizardState {
	f.t.Helper()
	s, err := f.seq.Snapshot(f.ctx)
	require.NoError(f.t, err)
	return s
}

// handlers returns the live handler set for waiting outside the loop.
func (f *fixture) handlers() *steps.Set {
	f.t.Helper()
	var set *steps.Set
	require.NoError(f.t, f.seq.Apply(f.ctx, func(s *steps.Set) error {
		set = s
		return nil
	}))
	return set
}

func (f *fixture) settle(set *steps.Set) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	require.NoError(f.t, set.Wait(ctx))
}

func (f *fixture) conversationID(tag string) string {
	f.t.Helper()
	session, err := f.seq.Session(f.ctx)
	require.NoError(f.t, err)
	return session + "/" + tag
}

// seed stores state as a saved snapshot.
func (f *fixture) seed(state *models.WizardState) {
	f.t.Helper()
	data, err := persistence.Encode(state, savedAt)
	require.NoError(f.t, err)
	f.store.Put(data)
}

// resumeAt seeds state and resumes it.
func (f *fixture) resumeAt(state *models.WizardState) {
	f.t.Helper()
	f.seed(state)
	f.rec.Choose(ChoiceResume)
	status, err := f.seq.Resume(f.ctx)
	require.NoError(f.t, err)
	require.Equal(f.t, persistence.StatusLoaded, status)
}

func answered(c *models.ConversationState, in any) {
	c.History = []models.Turn{
		{Role: models.RoleUser, Content: "context", Timestamp: 1},
		{Role: models.RoleAssistant, Content: "answer", Timestamp: 2},
	}
	c.InputFingerprint = steps.Fingerprint(in)
}

// completeState is valid on every step, with every conversation already
// answered for its current inputs.
func completeState(step models.Step) *models.WizardState {
	s := models.NewWizardState()
	s.CurrentStep = step
	s.HighestStepReached = step
	s.BusinessContext = models.BusinessContextState{
		Objective: "Reduce stockouts",
		Industry:  "Retail",
		Systems:   []string{"SAP S/4HANA"},
	}
	s.GapFilling.Assumptions = []models.SystemAssumption{{System: "SAP S/4HANA", Modules: []string{"MM"}, Source: models.SourceAI}}
	s.GapFilling.Confirmed = true
	s.Outcome.PrimaryOutcome = "Cut stockouts by 30%"
	s.Outcome.SuccessMetrics = []models.SuccessMetric{{Name: "Stockout rate", Target: "-30%"}}
	s.Security.DataSensitivity = models.SensitivityConfidential
	s.AgentDesign.Pattern = models.PatternGraph
	s.AgentDesign.Agents = []models.AgentSpec{{ID: "buyer", Name: "Buyer", Role: "Raises POs"}}
	s.AgentDesign.Accepted = true
	s.MockData.Definitions = []models.MockDefinition{{Tool: "create_po", System: "SAP S/4HANA", Operation: "POST"}}
	s.DemoStrategy.AhaMoments = []models.AhaMoment{{Title: "Auto reorder"}}
	s.DemoStrategy.Persona = models.Persona{Name: "Maya", Role: "Store manager"}
	s.DemoStrategy.NarrativeScenes = []models.NarrativeScene{{Title: "Monday rush", Description: "Maya sees the alert"}}

	answered(&s.GapFilling.Conversation, steps.GapFillingInputsFrom(s))
	answered(&s.Outcome.Conversation, steps.OutcomeInputsFrom(s))
	answered(&s.Security.Conversation, steps.SecurityInputsFrom(s))
	answered(&s.AgentDesign.Conversation, steps.AgentDesignInputsFrom(s))
	answered(&s.MockData.Conversation, steps.MockDataInputsFrom(s))
	demo := steps.DemoInputsFrom(s)
	answered(&s.DemoStrategy.AhaConversation, demo)
	answered(&s.DemoStrategy.PersonaConversation, demo)
	answered(&s.DemoStrategy.NarrativeConversation, steps.NarrativeInputs{
		DemoInputs: demo,
		AhaMoments: s.DemoStrategy.AhaMoments,
		Persona:    s.DemoStrategy.Persona,
	})
	return s
}

func gapFillingReply() streamtest.Reply {
	return streamtest.Text(fmt.Sprintf("```json\n%s\n```", `{"assumptions": [{"system": "SAP S/4HANA", "modules": ["MM", "SD"]}]}`))
}
