package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}

event: message_stop
data: {"type":"message_stop"}

`

func newTestProducer(t *testing.T, handler http.HandlerFunc) *Producer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewProducer("test-key", nil, WithRequestOptions(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	))
}

func collect(p *Producer, prompt, conversationID string) (string, error) {
	var b strings.Builder
	for fragment, err := range p.Send(context.Background(), prompt, conversationID) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

func TestSendStreamsTextDeltas(t *testing.T) {
	var requests atomic.Int32
	p := newTestProducer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, streamBody)
	})

	text, err := collect(p, "Describe the systems", "gap-filling")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, 2, p.HistoryLen("gap-filling"))

	p.Reset("gap-filling")
	assert.Equal(t, 0, p.HistoryLen("gap-filling"))
}

func TestSendSurfacesAPIError(t *testing.T) {
	p := newTestProducer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad prompt"}}`)
	})

	_, err := collect(p, "x", "outcome")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stream from anthropic")
	assert.Equal(t, 0, p.HistoryLen("outcome"))
}

func TestOptions(t *testing.T) {
	p := NewProducer("k", nil, WithModel("claude-haiku-4-5"), WithMaxTokens(128))
	assert.Equal(t, "claude-haiku-4-5", string(p.model))
	assert.Equal(t, int64(128), p.maxTokens)

	p = NewProducer("k", nil, WithModel(""), WithMaxTokens(0))
	assert.Equal(t, DefaultModel, string(p.model))
	assert.Equal(t, int64(defaultMaxTokens), p.maxTokens)
}
