// Package observe holds the OpenTelemetry instruments and tracing helpers
// shared by the practice pipeline.
//
// Instruments are created against a [metric.MeterProvider]; the runtime
// installs a Prometheus-backed provider globally, and [DefaultMetrics] binds to
// whatever provider is global on first use. Tests should call [NewMetrics]
// with a provider backed by a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/ellie"

// Metrics holds every instrument the service records.
type Metrics struct {
	STTDuration      metric.Float64Histogram
	LLMDuration      metric.Float64Histogram
	TTSDuration      metric.Float64Histogram
	AttemptDuration  metric.Float64Histogram
	ProviderRetries  metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	PracticeAttempts metric.Int64Counter
	PracticeBonus    metric.Int64Counter

	// HTTPRequestDuration is recorded by [Middleware] with method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds; hosted speech calls routinely take several.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("ellie.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("ellie.llm.duration",
		metric.WithDescription("Latency of correction and suggestion generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("ellie.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AttemptDuration, err = m.Float64Histogram("ellie.practice.attempt.duration",
		metric.WithDescription("End-to-end latency of one practice attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRetries, err = m.Int64Counter("ellie.provider.retries",
		metric.WithDescription("Provider calls retried after a rate-limit response."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ellie.provider.errors",
		metric.WithDescription("Provider calls that failed after retries."),
	); err != nil {
		return nil, err
	}
	if met.PracticeAttempts, err = m.Int64Counter("ellie.practice.attempts",
		metric.WithDescription("Scored practice attempts by category and correctness."),
	); err != nil {
		return nil, err
	}
	if met.PracticeBonus, err = m.Int64Counter("ellie.practice.bonus",
		metric.WithDescription("Global bonuses awarded."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("ellie.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance created from the global
// meter provider on first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordRetry(ctx context.Context, call string) {
	m.ProviderRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("call", call)))
}

func (m *Metrics) RecordProviderError(ctx context.Context, call string, rateLimited bool) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("call", call),
		attribute.Bool("rate_limited", rateLimited),
	))
}

func (m *Metrics) RecordAttempt(ctx context.Context, category string, correct bool) {
	m.PracticeAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("correct", correct),
	))
}
