package steps

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream/streamtest"
	"github.com/stretchr/testify/require"
)

type countingHost struct {
	changed  atomic.Int32
	commits  atomic.Int32
	streamed atomic.Int32
}

func (h *countingHost) Changed()  { h.changed.Add(1) }
func (h *countingHost) Commit()   { h.commits.Add(1) }
func (h *countingHost) Streamed() { h.streamed.Add(1) }

var fixedNow = time.UnixMilli(1_700_000_000_000)

func testDeps(producer *streamtest.Producer, host *countingHost) Deps {
	return Deps{
		NewCoordinator: func() *stream.Coordinator {
			return stream.NewCoordinator(producer, runloop.Inline{}, nil)
		},
		Host: host,
		Now:  func() time.Time { return fixedNow },
	}
}

type waiter interface {
	Wait(ctx context.Context) error
}

func settle(t *testing.T, w waiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}
