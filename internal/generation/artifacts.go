package generation

import (
	"context"
	"strings"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
)

// SteeringDir holds the steering documents read by the generated agents.
const SteeringDir = ".kiro/steering"

// Artifact names in declared order.
const (
	ArtifactProduct              = "product.md"
	ArtifactTech                 = "tech.md"
	ArtifactStructure            = "structure.md"
	ArtifactCustomerContext      = "customer-context.md"
	ArtifactIntegrationLandscape = "integration-landscape.md"
	ArtifactSecurityPolicies     = "security-policies.md"
	ArtifactDemoStrategy         = "demo-strategy.md"
	ArtifactAgentifyIntegration  = "agentify-integration.md"
	ArtifactRoadmap              = "roadmap.md"
	ArtifactPolicies             = "policies"
	ArtifactDemoScript           = "DEMO.md"
)

// File is one output written by a generator.
type File struct {
	Path    string
	Content []byte
}

// Input is what a generator sees: a snapshot of the wizard state and the
// content of artifacts completed earlier in the run, keyed by name.
type Input struct {
	State *models.WizardState
	Prior map[string]string
}

// Generator produces the files of one artifact.
type Generator interface {
	Generate(ctx context.Context, artifact Artifact, in Input) ([]File, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, artifact Artifact, in Input) ([]File, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, artifact Artifact, in Input) ([]File, error) {
	return f(ctx, artifact, in)
}

// Artifact declares one pipeline output.
type Artifact struct {
	Name string

	// Path is the file written, or the directory for multi-file artifacts.
	Path string
	Dir  bool

	// Required artifacts form the core set probed by ProbeExisting.
	Required bool

	// Gate, when set, must return true for the artifact to be generated.
	Gate      func(*models.WizardState) bool
	Generator Generator
}

func steering(name string, gen Generator) Artifact {
	return Artifact{
		Name:      name,
		Path:      SteeringDir + "/" + name,
		Required:  true,
		Generator: gen,
	}
}

// WantsRoadmap gates the roadmap on the user's opt-in.
func WantsRoadmap(s *models.WizardState) bool {
	return s.Generation.IncludeRoadmap
}

// HasPolicyRules gates policy files on configured frameworks or approval gates.
func HasPolicyRules(s *models.WizardState) bool {
	return len(s.Security.ComplianceFrameworks) > 0 || len(s.Security.ApprovalGates) > 0
}

// HasNarrative gates the demo script on narrative scenes.
func HasNarrative(s *models.WizardState) bool {
	return len(s.DemoStrategy.NarrativeScenes) > 0
}

// DefaultArtifacts returns the standard artifact set in declared order.
// Steering documents, the roadmap and the demo script come from ai; policy
// files are rendered from the security state.
func DefaultArtifacts(ai *AIGenerator) []Artifact {
	return []Artifact{
		steering(ArtifactProduct, ai),
		steering(ArtifactTech, ai),
		steering(ArtifactStructure, ai),
		steering(ArtifactCustomerContext, ai),
		steering(ArtifactIntegrationLandscape, ai),
		steering(ArtifactSecurityPolicies, ai),
		steering(ArtifactDemoStrategy, ai),
		steering(ArtifactAgentifyIntegration, ai),
		{
			Name:      ArtifactRoadmap,
			Path:      "ROADMAP.md",
			Gate:      WantsRoadmap,
			Generator: ai,
		},
		{
			Name:      ArtifactPolicies,
			Path:      "policies",
			Dir:       true,
			Gate:      HasPolicyRules,
			Generator: PolicyGenerator{},
		},
		{
			Name:      ArtifactDemoScript,
			Path:      "DEMO.md",
			Gate:      HasNarrative,
			Generator: ai,
		},
	}
}

// slug turns a free-text rule name into a file name stem.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
