//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/orchestration"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/runloop"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestRuntimeProducerIntegration streams one exchange through a live agent runtime.
func TestRuntimeProducerIntegration(t *testing.T) {
	config := SetupInClusterEnvironment()
	if config.RuntimeURL == "" {
		t.Skip("AGENT_RUNTIME_URL not set")
	}
	logger := zaptest.NewLogger(t)

	client := orchestration.NewRuntimeClient(config.RuntimeURL, logger)
	if !client.IsHealthy(context.Background()) {
		t.Skipf("agent runtime at %s is not healthy", config.RuntimeURL)
	}
	producer := orchestration.NewRuntimeProducer(client, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	loop := runloop.New()
	go loop.Run(ctx)

	coord := stream.NewCoordinator(producer, loop, logger)

	t.Run("Streams A Reply", func(t *testing.T) {
		text, err := stream.Collect(ctx, coord, "Reply with the single word OK.", "integration")
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(text))
	})

	t.Run("Follow Up Continues The Thread", func(t *testing.T) {
		text, err := stream.Collect(ctx, coord, "Repeat your previous answer.", "integration")
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(text))
	})
}
