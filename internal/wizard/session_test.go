package wizard

import (
	"context"
	"testing"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeNotFound(t *testing.T) {
	f := newFixture(t)

	status, err := f.seq.Resume(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusNotFound, status)
	assert.Empty(t, f.rec.Shown())
	assert.Equal(t, models.StepBusinessContext, f.state().CurrentStep)
}

func TestResumeDiscardsUnusableSnapshots(t *testing.T) {
	tests := []struct {
		name string
		data string
		want persistence.Status
	}{
		{name: "older schema", data: `{"schemaVersion": 1, "savedAt": 1, "currentStep": 5}`, want: persistence.StatusVersionMismatch},
		{name: "not json", data: `{"schemaVersion": 3, "curr`, want: persistence.StatusCorrupted},
		{name: "broken invariant", data: `{"schemaVersion": 3, "savedAt": 1, "currentStep": 6, "highestStepReached": 2}`, want: persistence.StatusCorrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.Put([]byte(tt.data))

			status, err := f.seq.Resume(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, []string{models.NotificationWarning}, f.rec.Levels())
			assert.Equal(t, models.StepBusinessContext, f.state().CurrentStep)

			_, err = f.store.Read(context.Background())
			assert.ErrorIs(t, err, persistence.ErrNotFound)

			status, err = f.seq.Resume(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, persistence.StatusNotFound, status)
			assert.Len(t, f.rec.Shown(), 1)
		})
	}
}

func TestResumeDefaultsToSavedSession(t *testing.T) {
	f := newFixture(t)
	saved := completeState(models.StepAgentDesign)
	saved.BusinessContext.UploadedFile = &models.UploadedFile{
		UploadMetadata: models.UploadMetadata{Name: "runbook.pdf", Size: 4, UploadedAt: 1},
		Data:           []byte("%PDF"),
	}
	f.seed(saved)

	status, err := f.seq.Resume(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusLoaded, status)

	s := f.state()
	assert.Equal(t, models.StepAgentDesign, s.CurrentStep)
	assert.Equal(t, saved.AgentDesign.Agents, s.AgentDesign.Agents)
	require.NotNil(t, s.BusinessContext.UploadedFile)
	assert.True(t, s.BusinessContext.UploadedFile.RequiresReupload)
	assert.False(t, s.BusinessContext.UploadedFile.Available())

	shown := f.rec.Shown()
	require.Len(t, shown, 2)
	assert.Equal(t, models.NotificationConfirm, shown[0].Level)
	assert.Contains(t, shown[0].Message, "Mar 2 09:30")
	assert.Equal(t, []string{ChoiceResume, ChoiceStartFresh}, shown[0].Options)
	assert.Equal(t, models.NotificationWarning, shown[1].Level)
	assert.Contains(t, shown[1].Message, "runbook.pdf")
	assert.Empty(t, f.producer.Sent())
}

func TestResumeStartFresh(t *testing.T) {
	f := newFixture(t)
	f.seed(completeState(models.StepMockData))
	f.rec.Choose(ChoiceStartFresh)

	status, err := f.seq.Resume(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusLoaded, status)
	assert.Equal(t, models.StepBusinessContext, f.state().CurrentStep)

	_, err = f.store.Read(context.Background())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStartOverRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepOutcome))

	done, err := f.seq.StartOver(f.ctx)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, models.StepOutcome, f.state().CurrentStep)

	f.rec.Choose(ChoiceCancel)
	done, err = f.seq.StartOver(f.ctx)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestStartOverDetachesInFlightStream(t *testing.T) {
	f := newFixture(t)
	hold := make(chan struct{})
	f.producer.Enqueue(streamtest.Reply{Fragments: []string{"Thinking about your systems "}, Hold: hold})
	require.NoError(t, f.seq.Apply(f.ctx, fillBusinessContext))
	_, err := f.seq.Next(f.ctx)
	require.NoError(t, err)
	old := f.handlers()
	oldSession := f.conversationID(steps.GapFillingConversation)

	f.rec.Choose(ChoiceStartOver)
	done, err := f.seq.StartOver(f.ctx)
	require.NoError(t, err)
	assert.True(t, done)

	close(hold)
	f.settle(old)

	s := f.state()
	assert.Equal(t, models.StepBusinessContext, s.CurrentStep)
	assert.Equal(t, models.StepBusinessContext, s.HighestStepReached)
	assert.Empty(t, s.BusinessContext.Objective)
	assert.Empty(t, s.GapFilling.Conversation.History)
	assert.False(t, s.GapFilling.Conversation.IsStreaming)
	assert.NotEqual(t, oldSession, f.conversationID(steps.GapFillingConversation))

	_, err = f.store.Read(context.Background())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
