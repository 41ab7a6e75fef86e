package steps

import (
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

type promptBuilder struct {
	strings.Builder
}

func (b *promptBuilder) line(format string, args ...any) {
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func (b *promptBuilder) field(label, value string) {
	if value == "" {
		value = "(not provided)"
	}
	b.line("%s: %s", label, value)
}

func (b *promptBuilder) list(label string, values []string) {
	b.field(label, strings.Join(values, ", "))
}

func (b *promptBuilder) respondWith(schema string) {
	b.line("")
	b.line("Explain your reasoning briefly, then answer with a single fenced ```json block shaped like:")
	b.line("%s", schema)
}

func gapFillingPrompt(in GapFillingInputs) string {
	var b promptBuilder
	b.line("We are designing an AI agent demo for a customer.")
	b.field("Business objective", in.Objective)
	b.field("Industry", in.Industry)
	b.list("Systems in use", in.Systems)
	if in.Document != "" {
		b.field("Supporting document", in.Document)
	}
	b.line("")
	b.line("For each system, infer the modules the customer most likely uses and how the systems integrate.")
	b.respondWith(`{"assumptions": [{"system": "", "modules": [""], "integrations": [""]}]}`)
	return b.String()
}

func outcomePrompt(in OutcomeInputs) string {
	var b promptBuilder
	b.line("Define the business outcome an AI agent demo should prove.")
	b.field("Business objective", in.Objective)
	b.field("Industry", in.Industry)
	b.list("Systems in use", in.Systems)
	for _, a := range in.Assumptions {
		b.line("- %s: modules %s; integrations %s", a.System, strings.Join(a.Modules, ", "), strings.Join(a.Integrations, ", "))
	}
	b.respondWith(`{"primaryOutcome": "", "successMetrics": [{"name": "", "target": "", "unit": ""}], "stakeholders": [""]}`)
	return b.String()
}

func securityPrompt(in SecurityInputs) string {
	var b promptBuilder
	b.line("Recommend security and compliance settings for an AI agent working with these systems.")
	b.field("Business objective", in.Objective)
	b.field("Industry", in.Industry)
	b.list("Systems in use", in.Systems)
	b.field("Primary outcome", in.PrimaryOutcome)
	b.line("Data sensitivity must be one of: %s, %s, %s, %s.",
		models.SensitivityPublic, models.SensitivityInternal, models.SensitivityConfidential, models.SensitivityRestricted)
	b.respondWith(`{"dataSensitivity": "", "complianceFrameworks": [""], "approvalGates": [""], "guardrailNotes": ""}`)
	return b.String()
}

func agentDesignPrompt(in AgentDesignInputs) string {
	var b promptBuilder
	b.line("Propose a team of AI agents that delivers the outcome below.")
	b.field("Business objective", in.Objective)
	b.field("Primary outcome", in.PrimaryOutcome)
	for _, a := range in.Assumptions {
		b.line("- system %s (%s)", a.System, strings.Join(a.Modules, ", "))
	}
	b.field("Data sensitivity", in.DataSensitivity)
	b.list("Actions requiring human approval", in.ApprovalGates)
	b.line("Pick an orchestration pattern: %s, %s or %s.", models.PatternGraph, models.PatternSwarm, models.PatternWorkflow)
	b.respondWith(`{"pattern": "", "agents": [{"id": "", "name": "", "role": "", "tools": [""]}], "edges": [{"from": "", "to": "", "condition": ""}]}`)
	return b.String()
}

func mockDataPrompt(in MockDataInputs) string {
	var b promptBuilder
	b.line("Define mocked tool calls so the agents below can be demonstrated without live systems.")
	b.field("Industry", in.Industry)
	b.list("Systems in use", in.Systems)
	for _, a := range in.Agents {
		b.line("- agent %s (%s): tools %s", a.Name, a.Role, strings.Join(a.Tools, ", "))
	}
	b.respondWith(`{"mockDefinitions": [{"tool": "", "system": "", "operation": "", "description": "", "requestFields": [""], "sampleRecords": [{"field": "value"}]}]}`)
	return b.String()
}

func demoContext(b *promptBuilder, in DemoInputs) {
	b.field("Business objective", in.Objective)
	b.field("Industry", in.Industry)
	b.field("Primary outcome", in.PrimaryOutcome)
	b.list("Stakeholders", in.Stakeholders)
	for _, a := range in.Agents {
		b.line("- agent %s: %s", a.Name, a.Role)
	}
}

func ahaPrompt(in DemoInputs) string {
	var b promptBuilder
	b.line("Identify the moments in a live demo that will make the audience say \"aha\".")
	demoContext(&b, in)
	b.respondWith(`{"ahaMoments": [{"title": "", "trigger": "", "talkingPoint": ""}]}`)
	return b.String()
}

func personaPrompt(in DemoInputs) string {
	var b promptBuilder
	b.line("Describe the customer persona the demo is told through.")
	demoContext(&b, in)
	b.respondWith(`{"persona": {"name": "", "role": "", "painPoint": "", "goal": ""}}`)
	return b.String()
}

func narrativePrompt(in NarrativeInputs) string {
	var b promptBuilder
	b.line("Write the demo narrative as a sequence of scenes.")
	demoContext(&b, in.DemoInputs)
	for _, m := range in.AhaMoments {
		b.line("- aha moment %s: %s", m.Title, m.TalkingPoint)
	}
	if in.Persona.Name != "" {
		b.line("Persona: %s, %s. Pain point: %s", in.Persona.Name, in.Persona.Role, in.Persona.PainPoint)
	}
	b.respondWith(`{"scenes": [{"title": "", "description": "", "agents": [""], "highlight": ""}]}`)
	return b.String()
}
