// Package stream turns a producer's lazy fragment sequence into ordered
// lifecycle events delivered on a single executor.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("stream-coordinator")

// ErrInFlight is returned when Send is called while a call is still streaming.
var ErrInFlight = errors.New("a stream is already in flight")

// Producer is the AI conversation boundary.
type Producer interface {
	// Send returns the response as a lazy sequence of text fragments.
	// A non-nil error ends the sequence.
	Send(ctx context.Context, prompt, conversationID string) iter.Seq2[string, error]
	// Reset forgets the history of a conversation.
	Reset(conversationID string)
}

// Coordinator wraps one producer and allows one in-flight call at a time.
type Coordinator struct {
	producer Producer
	exec     runloop.Executor
	logger   *zap.Logger
	tracer   trace.Tracer
	inFlight atomic.Bool
}

// NewCoordinator creates a coordinator delivering events on exec.
func NewCoordinator(producer Producer, exec runloop.Executor, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		producer: producer,
		exec:     exec,
		logger:   logger,
		tracer:   tracer,
	}
}

// Streaming reports whether a call is in flight.
func (c *Coordinator) Streaming() bool {
	return c.inFlight.Load()
}

// Send starts a call. Events reach handler in order: Start, zero or more
// Token, then exactly one of Complete or Error. The stream is not bound to
// ctx cancellation; once started it runs to its terminal event.
func (c *Coordinator) Send(ctx context.Context, prompt, conversationID string, handler Handler) (*Call, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}

	call := &Call{done: make(chan struct{})}
	go c.run(context.WithoutCancel(ctx), prompt, conversationID, handler, call)
	return call, nil
}

// Reset forwards a conversation reset to the producer.
func (c *Coordinator) Reset(conversationID string) {
	c.producer.Reset(conversationID)
}

func (c *Coordinator) run(ctx context.Context, prompt, conversationID string, handler Handler, call *Call) {
	ctx, span := c.tracer.Start(ctx, "stream.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Int("prompt.length", len(prompt)),
	)

	start := time.Now()
	c.deliver(handler, Event{Kind: KindStart})

	var full strings.Builder
	tokens := 0
	for fragment, err := range c.producer.Send(ctx, prompt, conversationID) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			c.logger.Warn("stream failed",
				zap.String("conversation_id", conversationID),
				zap.Int("tokens", tokens),
				zap.Error(err),
			)
			c.finish(handler, call, Event{Kind: KindError, Text: err.Error()}, "", err)
			return
		}
		tokens++
		full.WriteString(fragment)
		c.deliver(handler, Event{Kind: KindToken, Text: fragment})
	}

	span.SetAttributes(attribute.Int("stream.tokens", tokens))
	c.logger.Debug("stream completed",
		zap.String("conversation_id", conversationID),
		zap.Int("tokens", tokens),
		zap.Duration("duration", time.Since(start)),
	)
	text := full.String()
	c.finish(handler, call, Event{Kind: KindComplete, Text: text}, text, nil)
}

func (c *Coordinator) deliver(handler Handler, ev Event) {
	c.exec.Post(func() { handler(ev) })
}

// finish releases the guard before the terminal event is handled so that a
// handler may start the next call from inside its terminal callback.
func (c *Coordinator) finish(handler Handler, call *Call, ev Event, text string, err error) {
	call.text = text
	if err != nil {
		call.err = fmt.Errorf("stream failed: %w", err)
	}
	c.inFlight.Store(false)
	c.exec.Post(func() {
		defer close(call.done)
		handler(ev)
	})
}

// Call is a handle on one in-flight send.
type Call struct {
	done chan struct{}
	text string
	err  error
}

// Done is closed once the terminal event has been handled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call finished and returns the full text.
func (c *Call) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.text, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Collect sends prompt on a fresh conversation and waits for the full response.
func Collect(ctx context.Context, c *Coordinator, prompt, conversationID string) (string, error) {
	c.Reset(conversationID)
	call, err := c.Send(ctx, prompt, conversationID, func(Event) {})
	if err != nil {
		return "", err
	}
	return call.Wait(ctx)
}
