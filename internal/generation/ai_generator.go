package generation

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"go.uber.org/zap"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"add":  func(a, b int) int { return a + b },
}

// AIGenerator renders an artifact prompt and collects the model response.
type AIGenerator struct {
	coord     *stream.Coordinator
	templates *template.Template
	logger    *zap.Logger
	prefix    string
}

// AIOption configures an AIGenerator.
type AIOption func(*AIGenerator)

// WithConversationPrefix scopes artifact conversation ids. Generators that
// share a producer need distinct prefixes, or their histories mix.
func WithConversationPrefix(prefix string) AIOption {
	return func(g *AIGenerator) { g.prefix = prefix }
}

// NewAIGenerator parses the embedded prompt templates.
func NewAIGenerator(coord *stream.Coordinator, logger *zap.Logger, opts ...AIOption) (*AIGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("prompts").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	g := &AIGenerator{coord: coord, templates: tmpl, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ConversationID returns the producer conversation an artifact is generated in.
func (g *AIGenerator) ConversationID(a Artifact) string {
	if g.prefix == "" {
		return "artifact-" + a.Name
	}
	return g.prefix + "/artifact-" + a.Name
}

type promptData struct {
	Artifact Artifact
	Input
}

// Prompt renders the prompt for an artifact.
func (g *AIGenerator) Prompt(a Artifact, in Input) (string, error) {
	var buf bytes.Buffer
	if err := g.templates.ExecuteTemplate(&buf, a.Name+".tmpl", promptData{Artifact: a, Input: in}); err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", a.Name, err)
	}
	return buf.String(), nil
}

// Generate implements Generator.
func (g *AIGenerator) Generate(ctx context.Context, a Artifact, in Input) ([]File, error) {
	prompt, err := g.Prompt(a, in)
	if err != nil {
		return nil, err
	}

	text, err := stream.Collect(ctx, g.coord, prompt, g.ConversationID(a))
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", a.Name, err)
	}

	content := strings.TrimSpace(stripFence(text))
	if content == "" {
		return nil, fmt.Errorf("model returned an empty document for %s", a.Name)
	}
	g.logger.Debug("artifact generated", zap.String("artifact", a.Name), zap.Int("bytes", len(content)))
	return []File{{Path: a.Path, Content: []byte(content + "\n")}}, nil
}

// stripFence removes a code fence wrapped around the whole response.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return text
	}
	t = strings.TrimSuffix(t, "```")
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return text
	}
	return t[nl+1:]
}
