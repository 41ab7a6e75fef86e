// Package steps holds the per-step content handlers of the wizard. Each
// handler owns one slice of the wizard state, talks to the model through its
// own stream coordinator and exposes narrow editing operations.
package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/metrics"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"go.uber.org/zap"
)

var (
	// ErrNothingToRetry is returned by RetryLast when no turn is awaiting an answer.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrEmptyMessage is returned for blank follow-up messages.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrIndexOutOfRange is returned by editing operations addressing a missing item.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidValue is returned by editing operations given an unsupported value.
	ErrInvalidValue = errors.New("invalid value")
)

// Host receives change notifications from handlers.
type Host interface {
	// Changed reports a user-visible mutation: refresh the UI and schedule a debounced save.
	Changed()
	// Commit reports an accept or confirm: refresh the UI and save immediately.
	Commit()
	// Streamed reports a token: refresh the UI without saving.
	Streamed()
}

// Deps are shared by every handler of one session.
type Deps struct {
	// NewCoordinator returns a fresh coordinator; each handler gets its own.
	NewCoordinator func() *stream.Coordinator
	Host           Host
	Now            func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.GenerationMetrics
	// Session prefixes conversation ids so that a discarded session never
	// shares model history with its replacement.
	Session string
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

func (d Deps) conversationID(tag string) string {
	if d.Session == "" {
		return tag
	}
	return d.Session + "/" + tag
}

// Fingerprint is a stable hash of a step's upstream inputs.
func Fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Conversation is the AI conversation engine shared by every assisted step.
// In is the type of the upstream inputs that feed the context prompt.
type Conversation[In any] struct {
	id     string
	state  *models.ConversationState
	coord  *stream.Coordinator
	deps   Deps
	prompt func(In) string
	// parse extracts structured records from a complete response, applies
	// them to the step slice and returns their JSON for the history.
	parse func(text string) (json.RawMessage, bool)
	// afterComplete runs once a response has been recorded.
	afterComplete func()

	detached atomic.Bool

	mu   sync.Mutex
	last *stream.Call
}

func newConversation[In any](tag string, state *models.ConversationState, deps Deps, prompt func(In) string, parse func(string) (json.RawMessage, bool)) *Conversation[In] {
	return &Conversation[In]{
		id:     deps.conversationID(tag),
		state:  state,
		coord:  deps.NewCoordinator(),
		deps:   deps,
		prompt: prompt,
		parse:  parse,
	}
}

// ID returns the conversation id used with the producer.
func (c *Conversation[In]) ID() string { return c.id }

// Streaming reports whether a response is in flight.
func (c *Conversation[In]) Streaming() bool { return c.state.IsStreaming }

// busy also covers calls on a coordinator shared with sibling conversations.
func (c *Conversation[In]) busy() bool {
	return c.state.IsStreaming || c.coord.Streaming()
}

// Stale reports whether in differs from the inputs of the current conversation.
func (c *Conversation[In]) Stale(in In) bool {
	return c.state.InputFingerprint != Fingerprint(in)
}

// AutoSend sends the context prompt unless the conversation already holds
// history for the same inputs. Changed inputs discard the conversation
// first. It reports whether a send was issued.
func (c *Conversation[In]) AutoSend(ctx context.Context, in In) (bool, error) {
	fp := Fingerprint(in)
	if len(c.state.History) > 0 && c.state.InputFingerprint == fp {
		return false, nil
	}
	if c.busy() {
		return false, stream.ErrInFlight
	}

	c.state.History = nil
	c.state.StreamingError = ""
	c.state.InputFingerprint = fp
	c.coord.Reset(c.id)

	return true, c.send(ctx, c.prompt(in))
}

// Regenerate clears the history and resends the context prompt.
// The fingerprint is kept.
func (c *Conversation[In]) Regenerate(ctx context.Context, in In) error {
	if c.busy() {
		return stream.ErrInFlight
	}
	c.state.History = nil
	c.state.StreamingError = ""
	if c.state.InputFingerprint == "" {
		c.state.InputFingerprint = Fingerprint(in)
	}
	c.coord.Reset(c.id)
	return c.send(ctx, c.prompt(in))
}

// RetryLast resends the most recent unanswered user turn. With at most one
// turn in history the recorded context prompt is sent again on a fresh
// conversation.
func (c *Conversation[In]) RetryLast(ctx context.Context) error {
	return c.retry(ctx, c.contextPrompt)
}

// RetryWith is RetryLast, rendering the context prompt from in when none
// has been recorded yet.
func (c *Conversation[In]) RetryWith(ctx context.Context, in In) error {
	return c.retry(ctx, func() string {
		if p := c.contextPrompt(); p != "" {
			return p
		}
		if c.state.InputFingerprint == "" {
			c.state.InputFingerprint = Fingerprint(in)
		}
		return c.prompt(in)
	})
}

func (c *Conversation[In]) retry(ctx context.Context, contextPrompt func() string) error {
	if c.busy() {
		return stream.ErrInFlight
	}

	history := c.state.History
	if len(history) <= 1 {
		prompt := contextPrompt()
		if prompt == "" {
			return ErrNothingToRetry
		}
		c.state.History = nil
		c.state.StreamingError = ""
		c.coord.Reset(c.id)
		return c.send(ctx, prompt)
	}

	last := history[len(history)-1]
	if last.Role != models.RoleUser {
		return ErrNothingToRetry
	}
	c.state.History = history[:len(history)-1]
	c.state.StreamingError = ""
	return c.send(ctx, last.Content)
}

// SendFollowUp sends a user message in the current conversation.
func (c *Conversation[In]) SendFollowUp(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if c.busy() {
		return stream.ErrInFlight
	}
	return c.send(ctx, text)
}

// Wait blocks until the most recent send has been fully handled.
func (c *Conversation[In]) Wait(ctx context.Context) error {
	c.mu.Lock()
	call := c.last
	c.mu.Unlock()
	if call == nil {
		return nil
	}
	select {
	case <-call.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detach makes every later stream event a no-op. Used when the session the
// conversation belongs to is discarded.
func (c *Conversation[In]) Detach() {
	c.detached.Store(true)
}

func (c *Conversation[In]) contextPrompt() string {
	if h := c.state.History; len(h) == 1 && h[0].Role == models.RoleUser {
		return h[0].Content
	}
	return c.state.ContextPrompt
}

func (c *Conversation[In]) send(ctx context.Context, prompt string) error {
	if len(c.state.History) == 0 {
		c.state.ContextPrompt = prompt
	}
	c.state.History = append(c.state.History, models.Turn{
		Role:      models.RoleUser,
		Content:   prompt,
		Timestamp: c.deps.Now().UnixMilli(),
	})
	c.state.IsStreaming = true
	c.state.StreamingText = ""
	c.state.StreamingError = ""

	call, err := c.coord.Send(ctx, prompt, c.id, c.handle)
	if err != nil {
		c.state.IsStreaming = false
		c.state.StreamingError = err.Error()
		c.deps.Host.Changed()
		return err
	}

	c.mu.Lock()
	c.last = call
	c.mu.Unlock()
	c.deps.Host.Changed()
	return nil
}

func (c *Conversation[In]) handle(ev stream.Event) {
	if c.detached.Load() {
		return
	}

	switch ev.Kind {
	case stream.KindStart:
	case stream.KindToken:
		c.state.StreamingText += ev.Text
		c.deps.Host.Streamed()
	case stream.KindComplete:
		turn := models.Turn{
			Role:      models.RoleAssistant,
			Content:   ev.Text,
			Timestamp: c.deps.Now().UnixMilli(),
		}
		if c.parse != nil {
			if parsed, ok := c.parse(ev.Text); ok {
				turn.ParsedResult = parsed
			} else {
				c.deps.Logger.Debug("no structured records in response",
					zap.String("conversation_id", c.id),
				)
			}
		}
		c.state.History = append(c.state.History, turn)
		c.state.IsStreaming = false
		c.state.StreamingText = ""
		c.deps.Metrics.RecordStream(context.Background(), c.id, "complete")
		c.deps.Host.Changed()
		if c.afterComplete != nil {
			c.afterComplete()
		}
	case stream.KindError:
		c.state.IsStreaming = false
		c.state.StreamingText = ""
		c.state.StreamingError = ev.Text
		c.deps.Metrics.RecordStream(context.Background(), c.id, "error")
		c.deps.Host.Changed()
	}
}
