// Package streamtest provides a deterministic producer for tests.
package streamtest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
)

// ErrNoReply is yielded when a send has no scripted reply.
var ErrNoReply = errors.New("streamtest: no scripted reply")

// Reply scripts the response to one send.
type Reply struct {
	Fragments []string
	Err       error
	// Hold, when set, blocks the stream after the fragments until it is closed.
	Hold chan struct{}
}

// Text scripts a successful reply split on spaces into fragments.
func Text(s string) Reply {
	var fragments []string
	for i, word := range strings.SplitAfter(s, " ") {
		if word == "" && i > 0 {
			continue
		}
		fragments = append(fragments, word)
	}
	return Reply{Fragments: fragments}
}

// Fail scripts a transport failure after the given fragments.
func Fail(err error, fragments ...string) Reply {
	return Reply{Fragments: fragments, Err: err}
}

// Sent records one call to Send.
type Sent struct {
	Prompt         string
	ConversationID string
}

// Producer replays scripted replies: per-conversation queues first, then the shared queue.
type Producer struct {
	mu             sync.Mutex
	shared         []Reply
	byConversation map[string][]Reply
	sent           []Sent
	resets         []string
}

// New creates an empty scripted producer.
func New() *Producer {
	return &Producer{byConversation: make(map[string][]Reply)}
}

// Enqueue appends replies to the shared queue.
func (p *Producer) Enqueue(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared = append(p.shared, replies...)
}

// EnqueueFor appends replies for one conversation.
func (p *Producer) EnqueueFor(conversationID string, replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byConversation[conversationID] = append(p.byConversation[conversationID], replies...)
}

// Send implements stream.Producer.
func (p *Producer) Send(_ context.Context, prompt, conversationID string) iter.Seq2[string, error] {
	p.mu.Lock()
	p.sent = append(p.sent, Sent{Prompt: prompt, ConversationID: conversationID})
	reply, ok := p.next(conversationID)
	p.mu.Unlock()

	return func(yield func(string, error) bool) {
		if !ok {
			yield("", ErrNoReply)
			return
		}
		for _, f := range reply.Fragments {
			if !yield(f, nil) {
				return
			}
		}
		if reply.Hold != nil {
			<-reply.Hold
		}
		if reply.Err != nil {
			yield("", reply.Err)
		}
	}
}

func (p *Producer) next(conversationID string) (Reply, bool) {
	if q := p.byConversation[conversationID]; len(q) > 0 {
		p.byConversation[conversationID] = q[1:]
		return q[0], true
	}
	if len(p.shared) > 0 {
		r := p.shared[0]
		p.shared = p.shared[1:]
		return r, true
	}
	return Reply{}, false
}

// Reset implements stream.Producer.
func (p *Producer) Reset(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, conversationID)
}

// Sent returns every recorded send.
func (p *Producer) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// SentTo returns the prompts sent on one conversation.
func (p *Producer) SentTo(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var prompts []string
	for _, s := range p.sent {
		if s.ConversationID == conversationID {
			prompts = append(prompts, s.Prompt)
		}
	}
	return prompts
}

// Resets returns the conversation ids that were reset, in order.
func (p *Producer) Resets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}
