// Package orchestration talks to the agent runtime service, an alternative
// backend for wizard conversations.
package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RuntimeAPI is the part of the runtime service the producer needs.
type RuntimeAPI interface {
	Invoke(ctx context.Context, req JobRequest) (string, error)
	Stream(ctx context.Context, threadID string) (*websocket.Conn, error)
	GetState(ctx context.Context, threadID string) (*ExecutionState, error)
	IsHealthy(ctx context.Context) bool
}

// RuntimeClient handles communication with the agent runtime service.
type RuntimeClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// JobRequest starts or continues a runtime thread.
type JobRequest struct {
	TraceID         string         `json:"trace_id"`
	JobID           string         `json:"job_id"`
	ThreadID        string         `json:"thread_id,omitempty"`
	AgentDefinition map[string]any `json:"agent_definition"`
	InputPayload    InputPayload   `json:"input_payload"`
}

// InputPayload represents the input payload for a job
type InputPayload struct {
	Messages []Message `json:"messages"`
}

// Message represents a message in the input payload
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionState is the stored state of a thread.
type ExecutionState struct {
	ThreadID string         `json:"thread_id"`
	Status   string         `json:"status"` // "completed", "failed", "running"
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type invokeResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// Stream event types sent by the runtime.
const (
	EventChunk       = "on_llm_stream"
	EventStateUpdate = "on_state_update"
	EventError       = "error"
	EventEnd         = "end"
)

// StreamEvent represents a WebSocket event from the runtime.
type StreamEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// NewRuntimeClient creates a client for the runtime at baseURL.
func NewRuntimeClient(baseURL string, logger *zap.Logger) *RuntimeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "agent-runtime",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &RuntimeClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tracer:  otel.Tracer("agent-runtime-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Invoke submits a job and returns its thread id.
func (c *RuntimeClient) Invoke(ctx context.Context, req JobRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "agent_runtime.invoke")
	defer span.End()

	span.SetAttributes(
		attribute.String("job_id", req.JobID),
		attribute.String("trace_id", req.TraceID),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.invoke(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to invoke agent runtime: %w", err)
	}

	threadID := result.(string)
	span.SetAttributes(attribute.String("thread_id", threadID))
	return threadID, nil
}

func (c *RuntimeClient) invoke(ctx context.Context, req JobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deepagents-runtime/invoke", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", statusError(resp)
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.ThreadID == "" {
		return "", fmt.Errorf("agent runtime returned no thread id")
	}
	return out.ThreadID, nil
}

// Stream opens the event stream of a thread.
func (c *RuntimeClient) Stream(ctx context.Context, threadID string) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "agent_runtime.stream")
	defer span.End()

	span.SetAttributes(attribute.String("thread_id", threadID))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.dial(ctx, threadID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	return result.(*websocket.Conn), nil
}

func (c *RuntimeClient) dial(ctx context.Context, threadID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	u.Path = "/deepagents-runtime/stream/" + url.PathEscape(threadID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("failed to dial WebSocket (status %d): %s, error: %w", resp.StatusCode, string(body), err)
		}
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	return conn, nil
}

// GetState retrieves the stored state of a thread.
func (c *RuntimeClient) GetState(ctx context.Context, threadID string) (*ExecutionState, error) {
	ctx, span := c.tracer.Start(ctx, "agent_runtime.get_state")
	defer span.End()

	span.SetAttributes(attribute.String("thread_id", threadID))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getState(ctx, threadID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return result.(*ExecutionState), nil
}

func (c *RuntimeClient) getState(ctx context.Context, threadID string) (*ExecutionState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/deepagents-runtime/state/"+url.PathEscape(threadID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var state ExecutionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &state, nil
}

// IsHealthy checks the runtime health endpoint. An open breaker counts as unhealthy.
func (c *RuntimeClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "agent_runtime.health_check")
	defer span.End()

	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))
	return healthy
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("agent runtime returned status %d (failed to read body: %w)", resp.StatusCode, err)
	}
	return fmt.Errorf("agent runtime returned status %d: %s", resp.StatusCode, string(body))
}
