package orchestration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultAgentName is the runtime agent that answers wizard prompts.
const DefaultAgentName = "agentify-ideation"

// ErrStreamClosed is returned when the runtime closes a stream before its end event.
var ErrStreamClosed = errors.New("agent runtime closed the stream early")

// RuntimeProducer streams wizard conversations through the agent runtime.
// Each conversation maps onto one runtime thread so follow-ups keep context.
type RuntimeProducer struct {
	client RuntimeAPI
	agent  map[string]any
	logger *zap.Logger

	mu      sync.Mutex
	threads map[string]string
}

// NewRuntimeProducer creates a producer over client.
func NewRuntimeProducer(client RuntimeAPI, logger *zap.Logger) *RuntimeProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeProducer{
		client:  client,
		agent:   map[string]any{"name": DefaultAgentName},
		logger:  logger,
		threads: make(map[string]string),
	}
}

// Send implements stream.Producer.
func (p *RuntimeProducer) Send(ctx context.Context, prompt, conversationID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p.mu.Lock()
		thread := p.threads[conversationID]
		p.mu.Unlock()

		traceID := uuid.NewString()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		threadID, err := p.client.Invoke(ctx, JobRequest{
			TraceID:         traceID,
			JobID:           uuid.NewString(),
			ThreadID:        thread,
			AgentDefinition: p.agent,
			InputPayload:    InputPayload{Messages: []Message{{Role: "user", Content: prompt}}},
		})
		if err != nil {
			yield("", err)
			return
		}
		logger := p.logger.With(zap.String("conversation_id", conversationID), zap.String("thread_id", threadID))

		conn, err := p.client.Stream(ctx, threadID)
		if err != nil {
			logger.Warn("stream unavailable, reading thread state", zap.Error(err))
			p.fallback(ctx, threadID, conversationID, err, yield)
			return
		}
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		received := false
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					yield("", ctx.Err())
					return
				}
				if !received {
					logger.Warn("stream closed before any output, reading thread state", zap.Error(err))
					p.fallback(ctx, threadID, conversationID, err, yield)
					return
				}
				yield("", fmt.Errorf("%w: %v", ErrStreamClosed, err))
				return
			}

			ev := gjson.ParseBytes(msg)
			switch ev.Get("event_type").String() {
			case EventChunk:
				chunk := ev.Get("data.chunk").String()
				if chunk == "" {
					continue
				}
				received = true
				if !yield(chunk, nil) {
					return
				}
			case EventError:
				msg := ev.Get("data.message").String()
				if msg == "" {
					msg = "unknown error"
				}
				yield("", fmt.Errorf("agent runtime error: %s", msg))
				return
			case EventEnd:
				p.remember(conversationID, threadID)
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

// fallback answers from the stored thread state when streaming failed.
func (p *RuntimeProducer) fallback(ctx context.Context, threadID, conversationID string, cause error, yield func(string, error) bool) {
	state, err := p.client.GetState(ctx, threadID)
	if err != nil {
		yield("", errors.Join(cause, err))
		return
	}
	output, _ := state.Result["output"].(string)
	switch {
	case state.Status == "failed":
		yield("", fmt.Errorf("agent runtime error: %s", state.Error))
	case state.Status != "completed" || output == "":
		yield("", fmt.Errorf("%w: thread %s is %s", ErrStreamClosed, threadID, state.Status))
	default:
		if yield(output, nil) {
			p.remember(conversationID, threadID)
		}
	}
}

func (p *RuntimeProducer) remember(conversationID, threadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[conversationID] = threadID
}

// Reset implements stream.Producer. The next send starts a new thread.
func (p *RuntimeProducer) Reset(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, conversationID)
}

// Healthy reports whether the runtime is reachable.
func (p *RuntimeProducer) Healthy(ctx context.Context) bool {
	return p.client.IsHealthy(ctx)
}
