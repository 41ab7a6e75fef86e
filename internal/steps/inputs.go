package steps

import (
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// GapFillingInputs feed the gap-filling conversation.
type GapFillingInputs struct {
	Objective string   `json:"objective"`
	Industry  string   `json:"industry"`
	Systems   []string `json:"systems"`
	Document  string   `json:"document,omitempty"`
}

// GapFillingInputsFrom derives the inputs from the business context.
// Only the document name takes part; its bytes are not sent.
func GapFillingInputsFrom(s *models.WizardState) GapFillingInputs {
	in := GapFillingInputs{
		Objective: s.BusinessContext.Objective,
		Industry:  s.BusinessContext.Industry,
		Systems:   s.BusinessContext.Systems,
	}
	if f := s.BusinessContext.UploadedFile; f != nil {
		in.Document = f.Name
	}
	return in
}

// OutcomeInputs feed the outcome conversation.
type OutcomeInputs struct {
	Objective   string                    `json:"objective"`
	Industry    string                    `json:"industry"`
	Systems     []string                  `json:"systems"`
	Assumptions []models.SystemAssumption `json:"assumptions"`
}

func OutcomeInputsFrom(s *models.WizardState) OutcomeInputs {
	return OutcomeInputs{
		Objective:   s.BusinessContext.Objective,
		Industry:    s.BusinessContext.Industry,
		Systems:     s.BusinessContext.Systems,
		Assumptions: s.GapFilling.Assumptions,
	}
}

// SecurityInputs feed the security conversation.
type SecurityInputs struct {
	Objective      string   `json:"objective"`
	Industry       string   `json:"industry"`
	Systems        []string `json:"systems"`
	PrimaryOutcome string   `json:"primaryOutcome"`
}

func SecurityInputsFrom(s *models.WizardState) SecurityInputs {
	return SecurityInputs{
		Objective:      s.BusinessContext.Objective,
		Industry:       s.BusinessContext.Industry,
		Systems:        s.BusinessContext.Systems,
		PrimaryOutcome: s.Outcome.PrimaryOutcome,
	}
}

// AgentDesignInputs feed the agent design conversation.
type AgentDesignInputs struct {
	Objective       string                    `json:"objective"`
	PrimaryOutcome  string                    `json:"primaryOutcome"`
	Assumptions     []models.SystemAssumption `json:"assumptions"`
	DataSensitivity string                    `json:"dataSensitivity"`
	ApprovalGates   []string                  `json:"approvalGates"`
}

func AgentDesignInputsFrom(s *models.WizardState) AgentDesignInputs {
	return AgentDesignInputs{
		Objective:       s.BusinessContext.Objective,
		PrimaryOutcome:  s.Outcome.PrimaryOutcome,
		Assumptions:     s.GapFilling.Assumptions,
		DataSensitivity: s.Security.DataSensitivity,
		ApprovalGates:   s.Security.ApprovalGates,
	}
}

// MockDataInputs feed the mock data conversation.
type MockDataInputs struct {
	Industry string             `json:"industry"`
	Systems  []string           `json:"systems"`
	Agents   []models.AgentSpec `json:"agents"`
}

func MockDataInputsFrom(s *models.WizardState) MockDataInputs {
	return MockDataInputs{
		Industry: s.BusinessContext.Industry,
		Systems:  s.BusinessContext.Systems,
		Agents:   s.AgentDesign.Agents,
	}
}

// DemoInputs are the upstream inputs of the demo strategy step.
type DemoInputs struct {
	Objective      string             `json:"objective"`
	Industry       string             `json:"industry"`
	PrimaryOutcome string             `json:"primaryOutcome"`
	Stakeholders   []string           `json:"stakeholders"`
	Agents         []models.AgentSpec `json:"agents"`
}

func DemoInputsFrom(s *models.WizardState) DemoInputs {
	return DemoInputs{
		Objective:      s.BusinessContext.Objective,
		Industry:       s.BusinessContext.Industry,
		PrimaryOutcome: s.Outcome.PrimaryOutcome,
		Stakeholders:   s.Outcome.Stakeholders,
		Agents:         s.AgentDesign.Agents,
	}
}

// NarrativeInputs extend the demo inputs with the sections the narrative builds on.
type NarrativeInputs struct {
	DemoInputs
	AhaMoments []models.AhaMoment `json:"ahaMoments"`
	Persona    models.Persona     `json:"persona"`
}
