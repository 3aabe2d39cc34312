// Package observe provides the observability primitives of the interpreter
// client: OpenTelemetry metrics, per-turn tracing and trace-aware logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge set up by [InitProvider]. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/medinterp"

// Turn outcomes used with [Metrics.RecordTurn].
const (
	TurnCompleted = "completed"
	TurnAborted   = "aborted"
	TurnRejected  = "rejected"
)

// Audio directions used with [Metrics.RecordAudioBytes].
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks the time from startTurn to response completion.
	TurnDuration metric.Float64Histogram

	// ResponseLatency tracks the time from stopTurn (payload sent) until both
	// text and audio completion have been observed.
	ResponseLatency metric.Float64Histogram

	// EncodeDuration tracks resample + quantize + base64 time per turn.
	EncodeDuration metric.Float64Histogram

	// Turns counts turns by outcome. Use with attributes:
	//   attribute.String("role", ...), attribute.String("status", ...)
	Turns metric.Int64Counter

	// Errors counts surfaced errors. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// Reconnects counts reconnect attempts scheduled after an unrequested
	// close.
	Reconnects metric.Int64Counter

	// AudioBytes counts PCM16 bytes. Use with attribute:
	//   attribute.String("direction", "sent"|"received")
	AudioBytes metric.Int64Counter

	// Connected is 1 while the transport is open and 0 otherwise.
	Connected metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Turns are
// human utterances, so the upper buckets reach well past typical speech.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("medinterp.turn.duration",
		metric.WithDescription("Time from turn start until the interpreted response completed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("medinterp.response.latency",
		metric.WithDescription("Time from submitting a turn until text and audio completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("medinterp.codec.encode.duration",
		metric.WithDescription("Time to resample, quantize and base64 a captured turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("medinterp.turns",
		metric.WithDescription("Total turns by role and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("medinterp.errors",
		metric.WithDescription("Total surfaced errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("medinterp.transport.reconnects",
		metric.WithDescription("Total reconnect attempts after an unrequested close."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("medinterp.audio.bytes",
		metric.WithDescription("PCM16 audio bytes by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Connected, err = m.Int64UpDownCounter("medinterp.transport.connected",
		metric.WithDescription("1 while the service connection is open."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordTurn counts one turn outcome for role.
func (m *Metrics) RecordTurn(ctx context.Context, role, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("status", status),
		),
	)
}

// RecordError counts one surfaced error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAudioBytes adds n PCM bytes in the given direction.
func (m *Metrics) RecordAudioBytes(ctx context.Context, direction string, n int) {
	m.AudioBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", direction)))
}
