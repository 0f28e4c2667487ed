// Package otelmetrics turns pbjx telemetry into OpenTelemetry metrics.
//
// Completed sends, publishes, requests and handler runs are counted and
// their latency recorded; failures of any kind are counted separately.
// Start notifications are ignored.
//
//	obs, err := otelmetrics.New()
//	p, err := pbjx.NewBuilder().WithObserver(obs).Build()
package otelmetrics

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/trickstertwo/pbjx"
)

const (
	meterName = "github.com/trickstertwo/pbjx"

	MetricMessages = "pbjx.messages"
	MetricFailures = "pbjx.failures"
	MetricLatency  = "pbjx.latency_ms"
)

// Observer records telemetry on otel instruments.
type Observer struct {
	messages metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

var _ pbjx.Observer = (*Observer)(nil)

// Option configures New.
type Option func(*options)

type options struct {
	provider metric.MeterProvider
}

// WithMeterProvider uses mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.provider = mp }
}

// New creates the instruments. Without WithMeterProvider the global
// provider is used, so set it with otel.SetMeterProvider first.
func New(opts ...Option) (*Observer, error) {
	o := options{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}
	meter := o.provider.Meter(meterName)

	messages, err := meter.Int64Counter(MetricMessages,
		metric.WithDescription("Messages sent, published, requested or handled"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(MetricFailures,
		metric.WithDescription("Failed handlers, listeners and transports"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(MetricLatency,
		metric.WithDescription("Time to send, publish, request or handle a message in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &Observer{messages: messages, failures: failures, latency: latency}, nil
}

// OnTelemetry implements pbjx.Observer.
func (o *Observer) OnTelemetry(t pbjx.Telemetry) {
	ctx := context.Background()
	op, done := operation(t.Kind)

	attrs := []attribute.KeyValue{attribute.String("curie", t.Curie)}
	if t.Transport != "" {
		attrs = append(attrs, attribute.String("transport", t.Transport))
	}

	switch {
	case t.Kind == pbjx.ListenerFailed, t.Kind == pbjx.TransportFailed:
		attrs = append(attrs, attribute.String("operation", string(t.Kind)))
		o.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	case done:
		attrs = append(attrs, attribute.String("operation", op))
		o.messages.Add(ctx, 1, metric.WithAttributes(attrs...))
		o.latency.Record(ctx, float64(t.Duration.Microseconds())/1000, metric.WithAttributes(attrs...))
		if t.Err != nil {
			o.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
}

// operation maps "send_done" to "send". Only *_done kinds report.
func operation(k pbjx.TelemetryKind) (string, bool) {
	return strings.CutSuffix(string(k), "_done")
}
