// Package runloop serialises state mutations onto a single goroutine.
package runloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("run loop stopped")

// Executor runs tasks one at a time, in submission order.
type Executor interface {
	// Post enqueues fn and returns immediately.
	Post(fn func())
	// Do runs fn on the executor and waits for it to finish.
	Do(ctx context.Context, fn func()) error
}

// Loop is an Executor backed by one goroutine and an unbounded FIFO queue.
// Posting from inside a task never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post implements Executor. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do implements Executor.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks until ctx is cancelled. Queued tasks are drained first.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.drain()
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.queue = nil
			l.mu.Unlock()
			return
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

// Inline runs every task synchronously on the caller's goroutine.
// It is meant for tests that drive components step by step.
type Inline struct{}

// Post implements Executor.
func (Inline) Post(fn func()) { fn() }

// Do implements Executor.
func (Inline) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}
