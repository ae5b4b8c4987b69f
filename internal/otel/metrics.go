package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "prompt-tracker"

// Metrics holds the metric instruments of prompt-tracker.
// All methods are safe on a nil receiver and for concurrent use.
type Metrics struct {
	// LLM token counters (partitioned by provider + model via attributes)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// LLMCalls counts provider calls by provider, api, model and outcome.
	LLMCalls metric.Int64Counter

	// TestRuns counts finished runs by test and final status.
	TestRuns metric.Int64Counter
	// RunDuration is the wall time of a test run in milliseconds.
	RunDuration metric.Float64Histogram

	// Evaluations counts evaluator verdicts by evaluator key and outcome.
	Evaluations metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.LLMCalls, err = meter.Int64Counter("llm.calls",
		metric.WithDescription("LLM provider calls partitioned by provider, api, model and outcome"))
	if err != nil {
		return nil, err
	}

	m.TestRuns, err = meter.Int64Counter("test_runs.total",
		metric.WithDescription("Finished test runs partitioned by test and status (passed, failed, error)"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("test_runs.duration",
		metric.WithDescription("Wall time of a test run"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.Evaluations, err = meter.Int64Counter("evaluations.total",
		metric.WithDescription("Evaluator verdicts partitioned by evaluator and outcome (passed, failed, error)"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTokens records LLM token usage on the metric counters.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}

// RecordLLMCall records one provider call; outcome is "ok" or "error".
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, api, model, outcome string) {
	if m == nil {
		return
	}
	m.LLMCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.api", api),
		attribute.String("llm.model", model),
		attribute.String("outcome", outcome),
	))
}

// RecordTestRun records a finished run.
func (m *Metrics) RecordTestRun(ctx context.Context, testName, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("test.name", testName),
		attribute.String("test_run.status", status),
	)
	m.TestRuns.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordEvaluation records one evaluator verdict.
func (m *Metrics) RecordEvaluation(ctx context.Context, evaluatorKey, outcome string) {
	if m == nil {
		return
	}
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("evaluator.key", evaluatorKey),
		attribute.String("outcome", outcome),
	))
}
