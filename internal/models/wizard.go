package models

import (
	"encoding/json"
)

// WizardState is the single source of truth for one wizard session.
// Invariant: CurrentStep <= HighestStepReached <= StepCount.
type WizardState struct {
	CurrentStep         Step `json:"currentStep"`
	HighestStepReached  Step `json:"highestStepReached"`
	ValidationAttempted bool `json:"validationAttempted"`

	BusinessContext BusinessContextState `json:"businessContext"`
	GapFilling      GapFillingState      `json:"gapFilling"`
	Outcome         OutcomeState         `json:"outcome"`
	Security        SecurityState        `json:"security"`
	AgentDesign     AgentDesignState     `json:"agentDesign"`
	MockData        MockDataState        `json:"mockData"`
	DemoStrategy    DemoStrategyState    `json:"demoStrategy"`
	Generation      GenerationState      `json:"generation"`
}

// NewWizardState returns the default state of a fresh session.
func NewWizardState() *WizardState {
	return &WizardState{
		CurrentStep:        StepBusinessContext,
		HighestStepReached: StepBusinessContext,
		AgentDesign: AgentDesignState{
			Pattern: PatternWorkflow,
		},
		Generation: NewGenerationState(),
	}
}

// Clone returns a deep copy of the state, including uploaded file bytes.
func (s *WizardState) Clone() *WizardState {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Every field is plain data, so this only happens on programmer error.
		panic("models: wizard state is not serializable: " + err.Error())
	}
	out := &WizardState{}
	if err := json.Unmarshal(data, out); err != nil {
		panic("models: wizard state round trip failed: " + err.Error())
	}
	if f := s.BusinessContext.UploadedFile; f != nil && f.Data != nil {
		out.BusinessContext.UploadedFile.Data = append([]byte(nil), f.Data...)
	}
	return out
}

// UploadMetadata describes an uploaded file without its content.
type UploadMetadata struct {
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	UploadedAt       int64  `json:"uploadedAt"` // epoch millis
	RequiresReupload bool   `json:"requiresReupload"`
}

// UploadedFile is a user-supplied document. Data never leaves the process.
type UploadedFile struct {
	UploadMetadata
	Data []byte `json:"-"`
}

// Available reports whether the file content is present in memory.
func (f *UploadedFile) Available() bool {
	return f != nil && !f.RequiresReupload && f.Data != nil
}

// BusinessContextState holds step 1 inputs.
type BusinessContextState struct {
	Objective    string        `json:"objective"`
	Industry     string        `json:"industry"`
	Systems      []string      `json:"systems"`
	UploadedFile *UploadedFile `json:"uploadedFile,omitempty"`
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	Timestamp    int64           `json:"timestamp"` // epoch millis
	ParsedResult json.RawMessage `json:"parsedResult,omitempty"`
}

// ConversationState tracks one AI-assisted conversation.
type ConversationState struct {
	History          []Turn `json:"history"`
	IsStreaming      bool   `json:"isStreaming"`
	StreamingText    string `json:"streamingText,omitempty"`
	StreamingError   string `json:"streamingError,omitempty"`
	InputFingerprint string `json:"inputFingerprint,omitempty"`
	// ContextPrompt is the first prompt of the conversation, kept for retries.
	ContextPrompt    string `json:"contextPrompt,omitempty"`
}

// LastTurn returns the most recent turn or nil.
func (c *ConversationState) LastTurn() *Turn {
	if len(c.History) == 0 {
		return nil
	}
	return &c.History[len(c.History)-1]
}

// Assumption sources
const (
	SourceAI   = "ai"
	SourceUser = "user"
)

// SystemAssumption is an inferred fact about one of the customer's systems.
type SystemAssumption struct {
	System       string   `json:"system"`
	Modules      []string `json:"modules"`
	Integrations []string `json:"integrations"`
	Source       string   `json:"source"`
}

// GapFillingState holds step 2 content.
type GapFillingState struct {
	Conversation ConversationState  `json:"conversation"`
	Assumptions  []SystemAssumption `json:"assumptions"`
	Confirmed    bool               `json:"confirmed"`
}

// SuccessMetric is a measurable target for the outcome.
type SuccessMetric struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Unit   string `json:"unit,omitempty"`
}

// OutcomeState holds step 3 content.
type OutcomeState struct {
	Conversation   ConversationState `json:"conversation"`
	PrimaryOutcome string            `json:"primaryOutcome"`
	SuccessMetrics []SuccessMetric   `json:"successMetrics"`
	Stakeholders   []string          `json:"stakeholders"`
}

// Data sensitivity levels
const (
	SensitivityPublic       = "public"
	SensitivityInternal     = "internal"
	SensitivityConfidential = "confidential"
	SensitivityRestricted   = "restricted"
)

// DefaultGuardrailNotes is applied when the security step is skipped.
const DefaultGuardrailNotes = "No PII in agent responses. Read-only access to source systems. Human review before any external communication."

// SecurityState holds step 4 content.
type SecurityState struct {
	Conversation         ConversationState `json:"conversation"`
	DataSensitivity      string            `json:"dataSensitivity"`
	ComplianceFrameworks []string          `json:"complianceFrameworks"`
	ApprovalGates        []string          `json:"approvalGates"`
	GuardrailNotes       string            `json:"guardrailNotes,omitempty"`
	Skipped              bool              `json:"skipped"`
}

// Orchestration patterns
const (
	PatternGraph    = "graph"
	PatternSwarm    = "swarm"
	PatternWorkflow = "workflow"
)

// ValidPattern reports whether p is a supported orchestration pattern.
func ValidPattern(p string) bool {
	switch p {
	case PatternGraph, PatternSwarm, PatternWorkflow:
		return true
	}
	return false
}

// AgentSpec describes one agent in the proposed design.
type AgentSpec struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Role  string   `json:"role"`
	Tools []string `json:"tools"`
}

// AgentEdge connects two agents in a graph or workflow.
type AgentEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// AgentDesignState holds step 5 content.
type AgentDesignState struct {
	Conversation ConversationState `json:"conversation"`
	Pattern      string            `json:"pattern"`
	Agents       []AgentSpec       `json:"agents"`
	Edges        []AgentEdge       `json:"edges"`
	Accepted     bool              `json:"accepted"`
}

// MockDefinition describes a mocked tool call used by the demo.
type MockDefinition struct {
	Tool          string              `json:"tool"`
	System        string              `json:"system"`
	Operation     string              `json:"operation"`
	Description   string              `json:"description,omitempty"`
	RequestFields []string            `json:"requestFields"`
	SampleRecords []map[string]string `json:"sampleRecords"`
}

// MockDataState holds step 6 content.
type MockDataState struct {
	Conversation ConversationState `json:"conversation"`
	Definitions  []MockDefinition  `json:"definitions"`
}

// AhaMoment is a demo beat that shows the value of the agents.
type AhaMoment struct {
	Title        string `json:"title"`
	Trigger      string `json:"trigger,omitempty"`
	TalkingPoint string `json:"talkingPoint,omitempty"`
}

// Persona is the demo audience stand-in.
type Persona struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	PainPoint string `json:"painPoint,omitempty"`
	Goal      string `json:"goal,omitempty"`
}

// NarrativeScene is one scene of the demo script.
type NarrativeScene struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Agents      []string `json:"agents"`
	Highlight   string   `json:"highlight,omitempty"`
}

// DemoStrategyState holds step 7 content. Each section has its own conversation.
type DemoStrategyState struct {
	AhaConversation       ConversationState `json:"ahaConversation"`
	PersonaConversation   ConversationState `json:"personaConversation"`
	NarrativeConversation ConversationState `json:"narrativeConversation"`
	AhaMoments            []AhaMoment       `json:"ahaMoments"`
	Persona               Persona           `json:"persona"`
	NarrativeScenes       []NarrativeScene  `json:"narrativeScenes"`
}
