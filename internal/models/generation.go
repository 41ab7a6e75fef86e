package models

// GenerationPhase is the state of the generation pipeline.
type GenerationPhase string

const (
	PhaseIdle           GenerationPhase = "idle"
	PhaseGenerating     GenerationPhase = "generating"
	PhaseSuccess        GenerationPhase = "success"
	PhasePartialFailure GenerationPhase = "partial_failure"
)

// FailedArtifact records the artifact that halted the pipeline.
type FailedArtifact struct {
	Name         string `json:"name"`
	ErrorMessage string `json:"errorMessage"`
}

// ArtifactOutcome is the per-artifact result of the last run.
// Exactly one of Completed, Skipped or a non-empty Error is set.
type ArtifactOutcome struct {
	Name      string   `json:"name"`
	Paths     []string `json:"paths"`
	Completed bool     `json:"completed"`
	Skipped   bool     `json:"skipped"`
	Error     string   `json:"error,omitempty"`
}

// GenerationState tracks step 8.
type GenerationState struct {
	Phase                GenerationPhase   `json:"phase"`
	IsGenerating         bool              `json:"isGenerating"`
	CurrentArtifactIndex int               `json:"currentArtifactIndex"`
	CompletedArtifacts   []string          `json:"completedArtifacts"`
	FailedArtifact       *FailedArtifact   `json:"failedArtifact,omitempty"`
	GeneratedPaths       []string          `json:"generatedPaths"`
	CanGenerate          bool              `json:"canGenerate"`
	IncludeRoadmap       bool              `json:"includeRoadmap"`
	Outcomes             []ArtifactOutcome `json:"outcomes"`
	Warnings             []string          `json:"warnings"`
	AdoptedExisting      bool              `json:"adoptedExisting"`
}

// NewGenerationState returns the resting state before any run.
func NewGenerationState() GenerationState {
	return GenerationState{
		Phase:                PhaseIdle,
		CurrentArtifactIndex: -1,
		IncludeRoadmap:       true,
	}
}

// Outcome returns the recorded outcome for name, if any.
func (g *GenerationState) Outcome(name string) (ArtifactOutcome, bool) {
	for _, o := range g.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return ArtifactOutcome{}, false
}
