package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterScope = "github.com/trailguard/trailguard-go/pipeline"

// metrics holds the metric instruments for pipeline operations.
type metrics struct {
	// requestDuration measures end-to-end operation duration in seconds,
	// including cache lookups, waits and every retry attempt.
	requestDuration metric.Float64Histogram

	// requestsTotal counts operations by outcome.
	requestsTotal metric.Int64Counter

	// cacheHits and cacheMisses count read-path cache lookups.
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	// dedupCoalesced counts callers that joined another caller's
	// in-flight request instead of issuing their own.
	dedupCoalesced metric.Int64Counter

	// breakerRejections counts operations refused by an open circuit.
	breakerRejections metric.Int64Counter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"trailguard.request.duration",
		metric.WithDescription("End-to-end operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		),
	)
	if err != nil {
		return nil, err
	}

	m.requestsTotal, err = meter.Int64Counter(
		"trailguard.requests.total",
		metric.WithDescription("Operations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheHits, err = meter.Int64Counter(
		"trailguard.cache.hits",
		metric.WithDescription("Read-path cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheMisses, err = meter.Int64Counter(
		"trailguard.cache.misses",
		metric.WithDescription("Read-path cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.dedupCoalesced, err = meter.Int64Counter(
		"trailguard.dedup.coalesced",
		metric.WithDescription("Callers that shared another caller's in-flight request"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRejections, err = meter.Int64Counter(
		"trailguard.breaker.rejections",
		metric.WithDescription("Operations refused by an open circuit"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordRequest(ctx context.Context, req Request, start time.Time, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", req.Endpoint),
		attribute.String("method", req.Method),
		attribute.String("outcome", outcome),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func endpointAttrs(req Request) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("endpoint", req.Endpoint),
		attribute.String("method", req.Method),
	)
}
