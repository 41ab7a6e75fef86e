package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// PolicyGenerator writes one natural-language policy description per
// compliance framework and approval gate. The descriptions are the input to
// Cedar policy generation.
type PolicyGenerator struct{}

// Generate implements Generator.
func (PolicyGenerator) Generate(_ context.Context, a Artifact, in Input) ([]File, error) {
	sec := in.State.Security
	var files []File
	seen := map[string]bool{}

	add := func(kind, rule, body string) {
		name := slug(kind + " " + rule)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		files = append(files, File{
			Path:    a.Path + "/" + name + ".txt",
			Content: []byte(body),
		})
	}

	agents := agentIDs(in.State.AgentDesign.Agents)
	for _, fw := range sec.ComplianceFrameworks {
		add("framework", fw, fmt.Sprintf(
			"Agents %s must handle %s data in line with %s. Deny any tool call that sends records outside the approved systems, and deny responses that include personal data unless the caller holds the data-steward role.\n",
			agents, sensitivity(sec), fw,
		))
	}
	for _, gate := range sec.ApprovalGates {
		add("gate", gate, fmt.Sprintf(
			"Before %s, agents %s must obtain explicit approval from a human reviewer. Permit the action only when the request carries an approval reference; otherwise deny it and notify the reviewer.\n",
			gate, agents,
		))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no policy rules configured")
	}
	return files, nil
}

func agentIDs(agents []models.AgentSpec) string {
	if len(agents) == 0 {
		return "in this workspace"
	}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return strings.Join(ids, ", ")
}

func sensitivity(s models.SecurityState) string {
	if s.DataSensitivity == "" {
		return models.SensitivityInternal
	}
	return s.DataSensitivity
}
