// Package anthropic streams wizard conversations through the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// DefaultModel is used when the configuration does not name one.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 4096

// SystemPrompt frames every wizard conversation.
const SystemPrompt = "You are an ideation assistant helping a solutions architect design a multi-agent demo for a customer. " +
	"When asked for structured output, answer with a single JSON value in a ```json fenced block, followed by a short explanation."

// Producer keeps one message history per conversation so follow-ups carry context.
type Producer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	logger    *zap.Logger

	mu      sync.Mutex
	history map[string][]anthropic.MessageParam
}

// Option configures a Producer.
type Option func(*Producer)

// WithModel overrides the model.
func WithModel(model string) Option {
	return func(p *Producer) {
		if model != "" {
			p.model = anthropic.Model(model)
		}
	}
}

// WithMaxTokens overrides the response token limit.
func WithMaxTokens(n int64) Option {
	return func(p *Producer) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithRequestOptions passes extra options to the SDK client, e.g. a base URL.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(p *Producer) {
		p.client = anthropic.NewClient(opts...)
	}
}

// NewProducer creates a producer authenticated with apiKey.
func NewProducer(apiKey string, logger *zap.Logger, opts ...Option) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(DefaultModel),
		maxTokens: defaultMaxTokens,
		system:    SystemPrompt,
		logger:    logger,
		history:   make(map[string][]anthropic.MessageParam),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send implements stream.Producer. The exchange is appended to the
// conversation history only when the stream completes.
func (p *Producer) Send(ctx context.Context, prompt, conversationID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		user := anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))

		p.mu.Lock()
		messages := append(append([]anthropic.MessageParam(nil), p.history[conversationID]...), user)
		p.mu.Unlock()

		params := anthropic.MessageNewParams{
			Model:     p.model,
			MaxTokens: p.maxTokens,
			Messages:  messages,
			System: []anthropic.TextBlockParam{{
				Text: p.system,
			}},
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var full strings.Builder
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					full.WriteString(delta.Text)
					if !yield(delta.Text, nil) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("anthropic stream failed",
				zap.String("conversation_id", conversationID),
				zap.String("model", string(p.model)),
				zap.Error(err),
			)
			yield("", fmt.Errorf("failed to stream from anthropic: %w", err))
			return
		}

		p.mu.Lock()
		p.history[conversationID] = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(full.String())))
		p.mu.Unlock()
	}
}

// Reset implements stream.Producer.
func (p *Producer) Reset(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, conversationID)
}

// HistoryLen returns the number of stored messages for a conversation.
func (p *Producer) HistoryLen(conversationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history[conversationID])
}
