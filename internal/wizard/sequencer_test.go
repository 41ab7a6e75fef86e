package wizard

import (
	"testing"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillBusinessContext(s *steps.Set) error {
	s.BusinessContext.SetObjective("Reduce stockouts")
	s.BusinessContext.SetIndustry("Retail")
	s.BusinessContext.SetSystems([]string{"SAP S/4HANA"})
	return nil
}

func TestNextStaysOnStepWithErrors(t *testing.T) {
	f := newFixture(t)

	res, err := f.seq.Next(f.ctx)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, validation.StatusError, res.Status)

	s := f.state()
	assert.Equal(t, models.StepBusinessContext, s.CurrentStep)
	assert.True(t, s.ValidationAttempted)
	assert.Empty(t, f.producer.Sent())
}

func TestNextAdvancesAndAutoSends(t *testing.T) {
	f := newFixture(t)
	f.producer.Enqueue(gapFillingReply())
	require.NoError(t, f.seq.Apply(f.ctx, fillBusinessContext))

	res, err := f.seq.Next(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, validation.StatusComplete, res.Status)
	f.settle(f.handlers())

	s := f.state()
	assert.Equal(t, models.StepGapFilling, s.CurrentStep)
	assert.Equal(t, models.StepGapFilling, s.HighestStepReached)
	assert.False(t, s.ValidationAttempted)
	require.Len(t, s.GapFilling.Assumptions, 1)
	assert.Equal(t, []string{"MM", "SD"}, s.GapFilling.Assumptions[0].Modules)
	assert.Len(t, s.GapFilling.Conversation.History, 2)

	sent := f.producer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, f.conversationID(steps.GapFillingConversation), sent[0].ConversationID)
	assert.Contains(t, sent[0].Prompt, "Reduce stockouts")

	assert.GreaterOrEqual(t, f.store.Writes(), 1)
	assert.Positive(t, f.rec.Rerenders())
	require.NotNil(t, f.rec.LastSync())
}

func TestNextClearsValidationAttemptedOnEntry(t *testing.T) {
	f := newFixture(t)
	f.producer.Enqueue(gapFillingReply())

	_, err := f.seq.Next(f.ctx)
	require.ErrorIs(t, err, ErrValidationFailed)
	require.True(t, f.state().ValidationAttempted)

	require.NoError(t, f.seq.Apply(f.ctx, fillBusinessContext))
	_, err = f.seq.Next(f.ctx)
	require.NoError(t, err)
	f.settle(f.handlers())
	assert.False(t, f.state().ValidationAttempted)
}

func TestBackAndReenterDoesNotResend(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepOutcome))

	require.NoError(t, f.seq.Back(f.ctx))
	assert.Equal(t, models.StepGapFilling, f.state().CurrentStep)
	_, err := f.seq.Next(f.ctx)
	require.NoError(t, err)

	s := f.state()
	assert.Equal(t, models.StepOutcome, s.CurrentStep)
	assert.Empty(t, f.producer.Sent())
}

func TestUpstreamChangeResetsDownstreamConversation(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepOutcome))
	f.producer.Enqueue(gapFillingReply())

	_, err := f.seq.GoTo(f.ctx, models.StepBusinessContext)
	require.NoError(t, err)
	require.NoError(t, f.seq.Apply(f.ctx, func(s *steps.Set) error {
		return s.BusinessContext.AddSystem("Salesforce")
	}))
	_, err = f.seq.Next(f.ctx)
	require.NoError(t, err)
	f.settle(f.handlers())

	s := f.state()
	assert.Equal(t, models.StepGapFilling, s.CurrentStep)
	require.Len(t, s.GapFilling.Conversation.History, 2)
	assert.Contains(t, s.GapFilling.Conversation.History[0].Content, "SAP S/4HANA, Salesforce")
	assert.Equal(t, steps.Fingerprint(steps.GapFillingInputsFrom(s)), s.GapFilling.Conversation.InputFingerprint)
	assert.Equal(t, []string{f.conversationID(steps.GapFillingConversation)}, f.producer.Resets())
}

func TestGoToRules(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepSecurity))

	_, err := f.seq.GoTo(f.ctx, models.StepMockData)
	assert.ErrorIs(t, err, ErrStepLocked)
	_, err = f.seq.GoTo(f.ctx, models.Step(12))
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = f.seq.GoTo(f.ctx, models.StepBusinessContext)
	require.NoError(t, err)
	s := f.state()
	assert.Equal(t, models.StepBusinessContext, s.CurrentStep)
	assert.Equal(t, models.StepSecurity, s.HighestStepReached)

	require.NoError(t, f.seq.Apply(f.ctx, func(set *steps.Set) error {
		return set.GapFilling.RemoveAssumption(0)
	}))
	res, err := f.seq.GoTo(f.ctx, models.StepSecurity)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, validation.StatusError, res.Status)
	s = f.state()
	assert.Equal(t, models.StepGapFilling, s.CurrentStep)
	assert.True(t, s.ValidationAttempted)
}

func TestSkipSecurity(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepOutcome))

	assert.ErrorIs(t, f.seq.SkipSecurity(f.ctx), ErrNotSkippable)

	f.resumeAt(completeState(models.StepSecurity))
	writes := f.store.Writes()
	require.NoError(t, f.seq.SkipSecurity(f.ctx))

	s := f.state()
	assert.Equal(t, models.StepAgentDesign, s.CurrentStep)
	assert.True(t, s.Security.Skipped)
	assert.Greater(t, f.store.Writes(), writes)
	assert.Equal(t, validation.StatusWarning, validation.StatusForStep(models.StepSecurity, s).Status)
}

func TestConversationOperationsRequireReachedStep(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.seq.Regenerate(f.ctx, models.StepOutcome, ""), ErrStepLocked)
	assert.ErrorIs(t, f.seq.Retry(f.ctx, models.StepOutcome, ""), ErrStepLocked)
	assert.ErrorIs(t, f.seq.SendMessage(f.ctx, models.StepOutcome, "", "hi"), ErrStepLocked)
	assert.ErrorIs(t, f.seq.SendMessage(f.ctx, models.Step(0), "", "hi"), ErrInvalidStep)
}

func TestSendMessageAppendsToConversation(t *testing.T) {
	f := newFixture(t)
	f.resumeAt(completeState(models.StepOutcome))
	f.producer.Enqueue(streamtest.Text(`{"primaryOutcome": "Cut stockouts by 40%"}`))

	require.NoError(t, f.seq.SendMessage(f.ctx, models.StepOutcome, "", "Be more ambitious"))
	f.settle(f.handlers())

	s := f.state()
	assert.Len(t, s.Outcome.Conversation.History, 4)
	assert.Equal(t, "Cut stockouts by 40%", s.Outcome.PrimaryOutcome)
}
