package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/steps"
)

// EditRequest is one typed change to the content of a step.
type EditRequest struct {
	Op    string          `json:"op" binding:"required" example:"add_metric"`
	Index int             `json:"index,omitempty"`
	To    int             `json:"to,omitempty"`
	Value json.RawMessage `json:"value,omitempty" swaggertype:"object"`
}

// FileUpload is the value of attach_file. Content is base64 in JSON.
type FileUpload struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

var errUnknownOp = errors.New("unknown edit operation")

type editFunc func(set *steps.Set, req EditRequest) error

// value decodes the request value into T.
func value[T any](req EditRequest) (T, error) {
	var v T
	if len(req.Value) == 0 {
		return v, fmt.Errorf("%s needs a value: %w", req.Op, steps.ErrInvalidValue)
	}
	if err := json.Unmarshal(req.Value, &v); err != nil {
		return v, fmt.Errorf("%s value: %v: %w", req.Op, err, steps.ErrInvalidValue)
	}
	return v, nil
}

func set[T any](fn func(*steps.Set, T)) editFunc {
	return func(s *steps.Set, req EditRequest) error {
		v, err := value[T](req)
		if err != nil {
			return err
		}
		fn(s, v)
		return nil
	}
}

func apply[T any](fn func(*steps.Set, T) error) editFunc {
	return func(s *steps.Set, req EditRequest) error {
		v, err := value[T](req)
		if err != nil {
			return err
		}
		return fn(s, v)
	}
}

func update[T any](fn func(*steps.Set, int, T) error) editFunc {
	return func(s *steps.Set, req EditRequest) error {
		v, err := value[T](req)
		if err != nil {
			return err
		}
		return fn(s, req.Index, v)
	}
}

func remove(fn func(*steps.Set, int) error) editFunc {
	return func(s *steps.Set, req EditRequest) error { return fn(s, req.Index) }
}

func action(fn func(*steps.Set) error) editFunc {
	return func(s *steps.Set, _ EditRequest) error { return fn(s) }
}

var edits = map[models.Step]map[string]editFunc{
	models.StepBusinessContext: {
		"set_objective": set(func(s *steps.Set, v string) { s.BusinessContext.SetObjective(v) }),
		"set_industry":  set(func(s *steps.Set, v string) { s.BusinessContext.SetIndustry(v) }),
		"set_systems":   set(func(s *steps.Set, v []string) { s.BusinessContext.SetSystems(v) }),
		"add_system":    apply(func(s *steps.Set, v string) error { return s.BusinessContext.AddSystem(v) }),
		"remove_system": set(func(s *steps.Set, v string) { s.BusinessContext.RemoveSystem(v) }),
		"attach_file": apply(func(s *steps.Set, v FileUpload) error {
			return s.BusinessContext.AttachFile(v.Name, v.Content)
		}),
		"remove_file": action(func(s *steps.Set) error {
			s.BusinessContext.RemoveFile()
			return nil
		}),
	},
	models.StepGapFilling: {
		"add_assumption": apply(func(s *steps.Set, v models.SystemAssumption) error { return s.GapFilling.AddAssumption(v) }),
		"update_assumption": update(func(s *steps.Set, i int, v models.SystemAssumption) error {
			return s.GapFilling.UpdateAssumption(i, v)
		}),
		"remove_assumption": remove(func(s *steps.Set, i int) error { return s.GapFilling.RemoveAssumption(i) }),
		"confirm":           action(func(s *steps.Set) error { return s.GapFilling.Confirm() }),
	},
	models.StepOutcome: {
		"set_primary_outcome": set(func(s *steps.Set, v string) { s.Outcome.SetPrimaryOutcome(v) }),
		"add_metric":          apply(func(s *steps.Set, v models.SuccessMetric) error { return s.Outcome.AddMetric(v) }),
		"update_metric": update(func(s *steps.Set, i int, v models.SuccessMetric) error {
			return s.Outcome.UpdateMetric(i, v)
		}),
		"remove_metric":      remove(func(s *steps.Set, i int) error { return s.Outcome.RemoveMetric(i) }),
		"toggle_stakeholder": set(func(s *steps.Set, v string) { s.Outcome.ToggleStakeholder(v) }),
	},
	models.StepSecurity: {
		"set_data_sensitivity": apply(func(s *steps.Set, v string) error { return s.Security.SetDataSensitivity(v) }),
		"toggle_framework":     set(func(s *steps.Set, v string) { s.Security.ToggleFramework(v) }),
		"toggle_approval_gate": set(func(s *steps.Set, v string) { s.Security.ToggleApprovalGate(v) }),
		"set_guardrail_notes":  set(func(s *steps.Set, v string) { s.Security.SetGuardrailNotes(v) }),
	},
	models.StepAgentDesign: {
		"set_pattern":  apply(func(s *steps.Set, v string) error { return s.AgentDesign.SetPattern(v) }),
		"add_agent":    apply(func(s *steps.Set, v models.AgentSpec) error { return s.AgentDesign.AddAgent(v) }),
		"update_agent": update(func(s *steps.Set, i int, v models.AgentSpec) error { return s.AgentDesign.UpdateAgent(i, v) }),
		"remove_agent": remove(func(s *steps.Set, i int) error { return s.AgentDesign.RemoveAgent(i) }),
		"add_edge":     apply(func(s *steps.Set, v models.AgentEdge) error { return s.AgentDesign.AddEdge(v) }),
		"remove_edge":  remove(func(s *steps.Set, i int) error { return s.AgentDesign.RemoveEdge(i) }),
		"accept":       action(func(s *steps.Set) error { return s.AgentDesign.Accept() }),
	},
	models.StepMockData: {
		"add_definition": apply(func(s *steps.Set, v models.MockDefinition) error { return s.MockData.AddDefinition(v) }),
		"update_definition": update(func(s *steps.Set, i int, v models.MockDefinition) error {
			return s.MockData.UpdateDefinition(i, v)
		}),
		"remove_definition": remove(func(s *steps.Set, i int) error { return s.MockData.RemoveDefinition(i) }),
	},
	models.StepDemoStrategy: {
		"add_aha_moment": apply(func(s *steps.Set, v models.AhaMoment) error { return s.DemoStrategy.AddAhaMoment(v) }),
		"update_aha_moment": update(func(s *steps.Set, i int, v models.AhaMoment) error {
			return s.DemoStrategy.UpdateAhaMoment(i, v)
		}),
		"remove_aha_moment": remove(func(s *steps.Set, i int) error { return s.DemoStrategy.RemoveAhaMoment(i) }),
		"set_persona":       set(func(s *steps.Set, v models.Persona) { s.DemoStrategy.SetPersona(v) }),
		"add_scene":         apply(func(s *steps.Set, v models.NarrativeScene) error { return s.DemoStrategy.AddScene(v) }),
		"update_scene": update(func(s *steps.Set, i int, v models.NarrativeScene) error {
			return s.DemoStrategy.UpdateScene(i, v)
		}),
		"remove_scene": remove(func(s *steps.Set, i int) error { return s.DemoStrategy.RemoveScene(i) }),
		"move_scene": func(s *steps.Set, req EditRequest) error {
			return s.DemoStrategy.MoveScene(req.Index, req.To)
		},
	},
}

// lookupEdit resolves the operation of req on step.
func lookupEdit(step models.Step, op string) (editFunc, error) {
	fn, ok := edits[step][op]
	if !ok {
		return nil, fmt.Errorf("%w %q for step %s", errUnknownOp, op, step)
	}
	return fn, nil
}

// EditOps lists the supported operations of step.
func EditOps(step models.Step) []string {
	ops := make([]string, 0, len(edits[step]))
	for op := range edits[step] {
		ops = append(ops, op)
	}
	return ops
}
