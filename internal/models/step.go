package models

import "fmt"

// Step identifies one of the eight wizard steps. Values are 1-based so that
// they can be shown to users and persisted as-is.
type Step int

const (
	StepBusinessContext Step = iota + 1
	StepGapFilling
	StepOutcome
	StepSecurity
	StepAgentDesign
	StepMockData
	StepDemoStrategy
	StepGenerate
)

// StepCount is the number of wizard steps.
const StepCount = 8

var stepNames = map[Step]string{
	StepBusinessContext: "business_context",
	StepGapFilling:      "gap_filling",
	StepOutcome:         "outcome",
	StepSecurity:        "security",
	StepAgentDesign:     "agent_design",
	StepMockData:        "mock_data",
	StepDemoStrategy:    "demo_strategy",
	StepGenerate:        "generate",
}

var stepTitles = map[Step]string{
	StepBusinessContext: "Business Context",
	StepGapFilling:      "AI Gap-Filling",
	StepOutcome:         "Outcome Definition",
	StepSecurity:        "Security & Compliance",
	StepAgentDesign:     "Agent Design",
	StepMockData:        "Mock Data",
	StepDemoStrategy:    "Demo Strategy",
	StepGenerate:        "Generate",
}

// Valid reports whether s is within 1..StepCount.
func (s Step) Valid() bool {
	return s >= StepBusinessContext && s <= StepGenerate
}

// String returns the machine name of the step.
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Title returns the user-facing label of the step.
func (s Step) Title() string {
	if title, ok := stepTitles[s]; ok {
		return title
	}
	return s.String()
}

// ParseStep resolves a machine name back to a Step.
func ParseStep(name string) (Step, bool) {
	for s, n := range stepNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// AllSteps returns the steps in wizard order.
func AllSteps() []Step {
	steps := make([]Step, 0, StepCount)
	for s := StepBusinessContext; s <= StepGenerate; s++ {
		steps = append(steps, s)
	}
	return steps
}
