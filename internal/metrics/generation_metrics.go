package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "wizard-generation"

// GenerationMetrics provides metrics collection for artifact generation runs
type GenerationMetrics struct {
	runsStartedCounter        metric.Int64Counter
	artifactsCompletedCounter metric.Int64Counter
	artifactsFailedCounter    metric.Int64Counter
	artifactsSkippedCounter   metric.Int64Counter
	runDurationHistogram      metric.Float64Histogram
	runsActiveGauge           metric.Int64UpDownCounter
	streamsCounter            metric.Int64Counter
}

// NewGenerationMetrics creates a collector on the global meter provider
func NewGenerationMetrics() (*GenerationMetrics, error) {
	return NewGenerationMetricsWithProvider(otel.GetMeterProvider())
}

// NewGenerationMetricsWithProvider creates a collector on provider
func NewGenerationMetricsWithProvider(provider metric.MeterProvider) (*GenerationMetrics, error) {
	meter := provider.Meter(meterName)

	runsStartedCounter, err := meter.Int64Counter(
		"agentify_wizard.generation.runs.started",
		metric.WithDescription("Total number of generation runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	artifactsCompletedCounter, err := meter.Int64Counter(
		"agentify_wizard.generation.artifacts.completed",
		metric.WithDescription("Total number of artifacts written successfully"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return nil, err
	}

	artifactsFailedCounter, err := meter.Int64Counter(
		"agentify_wizard.generation.artifacts.failed",
		metric.WithDescription("Total number of artifacts that halted a run"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return nil, err
	}

	artifactsSkippedCounter, err := meter.Int64Counter(
		"agentify_wizard.generation.artifacts.skipped",
		metric.WithDescription("Total number of optional artifacts skipped by their gate"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"agentify_wizard.generation.run.duration",
		metric.WithDescription("Duration of generation runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"agentify_wizard.generation.runs.active",
		metric.WithDescription("Number of generation runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	streamsCounter, err := meter.Int64Counter(
		"agentify_wizard.conversation.streams",
		metric.WithDescription("Total number of AI conversation streams by step and outcome"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		runsStartedCounter:        runsStartedCounter,
		artifactsCompletedCounter: artifactsCompletedCounter,
		artifactsFailedCounter:    artifactsFailedCounter,
		artifactsSkippedCounter:   artifactsSkippedCounter,
		runDurationHistogram:      runDurationHistogram,
		runsActiveGauge:           runsActiveGauge,
		streamsCounter:            streamsCounter,
	}, nil
}

// RecordRunStarted records the start of a fresh run or a retry
func (gm *GenerationMetrics) RecordRunStarted(ctx context.Context, retry bool) {
	if gm == nil {
		return
	}
	gm.runsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("run.retry", retry)),
	)
	gm.runsActiveGauge.Add(ctx, 1)
}

// RecordRunFinished records the end of a run with its terminal phase
func (gm *GenerationMetrics) RecordRunFinished(ctx context.Context, phase string, duration time.Duration) {
	if gm == nil {
		return
	}
	gm.runDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("run.phase", phase)),
	)
	gm.runsActiveGauge.Add(ctx, -1)
}

// RecordArtifactCompleted records a written artifact
func (gm *GenerationMetrics) RecordArtifactCompleted(ctx context.Context, artifact string) {
	if gm == nil {
		return
	}
	gm.artifactsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("artifact.name", artifact)),
	)
}

// RecordArtifactFailed records the artifact that stopped a run
func (gm *GenerationMetrics) RecordArtifactFailed(ctx context.Context, artifact, errorType string) {
	if gm == nil {
		return
	}
	gm.artifactsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("artifact.name", artifact),
			attribute.String("error.type", errorType),
		),
	)
}

// RecordArtifactSkipped records an optional artifact whose gate was false
func (gm *GenerationMetrics) RecordArtifactSkipped(ctx context.Context, artifact string) {
	if gm == nil {
		return
	}
	gm.artifactsSkippedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("artifact.name", artifact)),
	)
}

// RecordStream records the outcome of one conversation stream
func (gm *GenerationMetrics) RecordStream(ctx context.Context, conversation, outcome string) {
	if gm == nil {
		return
	}
	gm.streamsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("conversation.id", conversation),
			attribute.String("stream.outcome", outcome),
		),
	)
}
