package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	submissions   otelmetric.Int64Counter
	waitOutcomes  otelmetric.Int64Counter
	waitDuration  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	submissions, _ := meter.Int64Counter(
		"trips.submitted",
		otelmetric.WithDescription("Number of trip requests submitted to the webhook"),
	)

	waitOutcomes, _ := meter.Int64Counter(
		"trips.wait.outcomes",
		otelmetric.WithDescription("Wait cycle outcomes by source and status"),
	)

	waitDuration, _ := meter.Float64Histogram(
		"trips.wait.duration",
		otelmetric.WithDescription("Time from submission to terminal wait state"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		submissions:   submissions,
		waitOutcomes:  waitOutcomes,
		waitDuration:  waitDuration,
	}
}

func (o *Observability) RecordSubmission(ctx context.Context, status string) {
	if o.submissions != nil {
		o.submissions.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordWaitOutcome tags the terminal state with the detector that won
// (listener, poller, timeout, failure).
func (o *Observability) RecordWaitOutcome(ctx context.Context, source, status string) {
	if o.waitOutcomes != nil {
		o.waitOutcomes.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordWaitDuration(ctx context.Context, duration time.Duration, status string) {
	if o.waitDuration != nil {
		o.waitDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
