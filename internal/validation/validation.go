// Package validation computes per-step status from wizard state.
// Every function here is pure.
package validation

import (
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// Status of a step.
type Status string

const (
	StatusComplete Status = "complete"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
)

// Result is the verdict for one step.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// StepResult pairs a step with its result.
type StepResult struct {
	Step   models.Step `json:"step"`
	Name   string      `json:"name"`
	Title  string      `json:"title"`
	Result Result      `json:"result"`
}

func complete() Result { return Result{Status: StatusComplete} }

func warning(msg string) Result { return Result{Status: StatusWarning, Message: msg} }

func errorResult(msg string) Result { return Result{Status: StatusError, Message: msg} }

func blank(s string) bool { return strings.TrimSpace(s) == "" }

var rules = map[models.Step]func(*models.WizardState) Result{
	models.StepBusinessContext: businessContext,
	models.StepGapFilling:      gapFilling,
	models.StepOutcome:         outcome,
	models.StepSecurity:        security,
	models.StepAgentDesign:     agentDesign,
	models.StepMockData:        mockData,
	models.StepDemoStrategy:    demoStrategy,
}

// StatusForStep returns the status of step for the given state.
// The generate step and unknown steps are always complete.
func StatusForStep(step models.Step, state *models.WizardState) Result {
	rule, ok := rules[step]
	if !ok || state == nil {
		return complete()
	}
	return rule(state)
}

// CanAdvance reports whether no step before Generate is in error.
func CanAdvance(state *models.WizardState) bool {
	return len(StepsWithErrors(state)) == 0
}

// StepsWithErrors lists steps in 1..7 whose status is error, in order.
func StepsWithErrors(state *models.WizardState) []models.Step {
	var out []models.Step
	for s := models.StepBusinessContext; s < models.StepGenerate; s++ {
		if StatusForStep(s, state).Status == StatusError {
			out = append(out, s)
		}
	}
	return out
}

// Summary returns the status of every step.
func Summary(state *models.WizardState) []StepResult {
	out := make([]StepResult, 0, models.StepCount)
	for _, s := range models.AllSteps() {
		out = append(out, StepResult{
			Step:   s,
			Name:   s.String(),
			Title:  s.Title(),
			Result: StatusForStep(s, state),
		})
	}
	return out
}

func businessContext(s *models.WizardState) Result {
	bc := s.BusinessContext
	switch {
	case blank(bc.Objective):
		return errorResult("Business objective is required")
	case blank(bc.Industry):
		return errorResult("Industry is required")
	case len(bc.Systems) == 0:
		return warning("No systems selected; AI suggestions will be generic")
	}
	return complete()
}

func gapFilling(s *models.WizardState) Result {
	gf := s.GapFilling
	switch {
	case len(gf.Assumptions) == 0:
		return errorResult("At least one system assumption is required")
	case !gf.Confirmed:
		return errorResult("Confirm the system assumptions to continue")
	}
	return complete()
}

func outcome(s *models.WizardState) Result {
	o := s.Outcome
	switch {
	case blank(o.PrimaryOutcome):
		return errorResult("Primary outcome is required")
	case len(o.SuccessMetrics) == 0:
		return warning("No success metrics defined")
	}
	return complete()
}

func security(s *models.WizardState) Result {
	sec := s.Security
	if sec.Skipped {
		return warning("Security configuration skipped; default guardrails applied")
	}
	if blank(sec.DataSensitivity) {
		return errorResult("Data sensitivity classification is required")
	}
	return complete()
}

func agentDesign(s *models.WizardState) Result {
	ad := s.AgentDesign
	switch {
	case len(ad.Agents) == 0:
		return errorResult("At least one agent is required")
	case !ad.Accepted:
		return errorResult("Accept the agent design to continue")
	}
	return complete()
}

func mockData(s *models.WizardState) Result {
	if len(s.MockData.Definitions) == 0 {
		return warning("No mock data definitions; the demo will use empty tool responses")
	}
	return complete()
}

func demoStrategy(s *models.WizardState) Result {
	ds := s.DemoStrategy
	switch {
	case len(ds.AhaMoments) == 0:
		return warning("No aha moments defined")
	case len(ds.NarrativeScenes) == 0:
		return warning("No narrative scenes defined; DEMO.md will not be generated")
	}
	return complete()
}
