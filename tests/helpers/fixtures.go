package helpers

import (
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DefaultTestPassword satisfies the account password rules.
const DefaultTestPassword = "test-password-123"

// CompleteState returns a session parked on the generate step with every
// earlier step passing validation.
func CompleteState() *models.WizardState {
	s := models.NewWizardState()
	s.CurrentStep = models.StepGenerate
	s.HighestStepReached = models.StepGenerate
	s.BusinessContext = models.BusinessContextState{
		Objective: "Reduce stockouts across regional warehouses",
		Industry:  "Retail",
		Systems:   []string{"SAP S/4HANA", "Salesforce"},
	}
	s.GapFilling.Assumptions = []models.SystemAssumption{
		{System: "SAP S/4HANA", Modules: []string{"MM", "SD"}, Source: models.SourceAI},
		{System: "Salesforce", Modules: []string{"Service Cloud"}, Source: models.SourceAI},
	}
	s.GapFilling.Confirmed = true
	s.Outcome.PrimaryOutcome = "Cut stockouts by 30%"
	s.Outcome.SuccessMetrics = []models.SuccessMetric{{Name: "Stockout rate", Target: "-30%"}}
	s.Security.DataSensitivity = models.SensitivityConfidential
	s.Security.ComplianceFrameworks = []string{"SOC 2"}
	s.AgentDesign.Agents = []models.AgentSpec{
		{ID: "planner", Name: "Replenishment Planner", Role: "Forecasts demand"},
		{ID: "buyer", Name: "Buyer", Role: "Raises purchase orders"},
	}
	s.AgentDesign.Accepted = true
	return s
}
