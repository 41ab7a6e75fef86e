package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// SchemaVersion is the snapshot layout written by this build.
// Bump it whenever a state slice changes shape.
const SchemaVersion = 3

// Snapshot is the persisted projection of a WizardState.
// The state fields are inlined next to the header, keyed by slice name.
type Snapshot struct {
	SchemaVersion int   `json:"schemaVersion"`
	SavedAt       int64 `json:"savedAt"`
	*models.WizardState
}

type header struct {
	SchemaVersion *int  `json:"schemaVersion"`
	SavedAt       int64 `json:"savedAt"`
}

// Encode serialises state. Uploaded file bytes are dropped and the metadata
// is marked as requiring a re-upload.
func Encode(state *models.WizardState, savedAt time.Time) ([]byte, error) {
	projection := *state
	if f := state.BusinessContext.UploadedFile; f != nil {
		stub := &models.UploadedFile{UploadMetadata: f.UploadMetadata}
		stub.RequiresReupload = true
		projection.BusinessContext.UploadedFile = stub
	}

	data, err := json.Marshal(Snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       savedAt.UnixMilli(),
		WizardState:   &projection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode classifies and, when compatible, reconstructs a stored snapshot.
// A version mismatch is detected from the header alone.
func Decode(data []byte) LoadResult {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return LoadResult{Status: StatusCorrupted, Err: fmt.Errorf("unreadable snapshot header: %w", err)}
	}
	if h.SchemaVersion == nil {
		return LoadResult{Status: StatusCorrupted, Err: fmt.Errorf("snapshot has no schema version")}
	}
	if *h.SchemaVersion != SchemaVersion {
		return LoadResult{Status: StatusVersionMismatch, FoundVersion: *h.SchemaVersion}
	}

	state := &models.WizardState{}
	if err := json.Unmarshal(data, &Snapshot{WizardState: state}); err != nil {
		return LoadResult{Status: StatusCorrupted, FoundVersion: *h.SchemaVersion, Err: fmt.Errorf("unreadable snapshot body: %w", err)}
	}
	if err := checkInvariants(state); err != nil {
		return LoadResult{Status: StatusCorrupted, FoundVersion: *h.SchemaVersion, Err: err}
	}
	normalise(state)

	return LoadResult{
		Status:       StatusLoaded,
		State:        state,
		SavedAt:      time.UnixMilli(h.SavedAt),
		FoundVersion: *h.SchemaVersion,
	}
}

func checkInvariants(s *models.WizardState) error {
	if !s.CurrentStep.Valid() || !s.HighestStepReached.Valid() {
		return fmt.Errorf("snapshot step out of range: current=%d highest=%d", s.CurrentStep, s.HighestStepReached)
	}
	if s.CurrentStep > s.HighestStepReached {
		return fmt.Errorf("snapshot current step %d beyond highest reached %d", s.CurrentStep, s.HighestStepReached)
	}
	return nil
}

// normalise clears transient flags that cannot survive a restart.
func normalise(s *models.WizardState) {
	for _, c := range []*models.ConversationState{
		&s.GapFilling.Conversation,
		&s.Outcome.Conversation,
		&s.Security.Conversation,
		&s.AgentDesign.Conversation,
		&s.MockData.Conversation,
		&s.DemoStrategy.AhaConversation,
		&s.DemoStrategy.PersonaConversation,
		&s.DemoStrategy.NarrativeConversation,
	} {
		c.IsStreaming = false
		c.StreamingText = ""
	}
	if s.Generation.IsGenerating {
		s.Generation.IsGenerating = false
		s.Generation.CurrentArtifactIndex = -1
		if s.Generation.Phase == models.PhaseGenerating {
			s.Generation.Phase = models.PhaseIdle
		}
	}
	if f := s.BusinessContext.UploadedFile; f != nil {
		f.RequiresReupload = true
		f.Data = nil
	}
}
