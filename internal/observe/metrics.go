// Package observe provides application-wide observability primitives for
// voicefront: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicefront metrics.
const meterName = "github.com/voicefront/voicefront"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTConnectDuration tracks how long opening a transcription stream took.
	STTConnectDuration metric.Float64Histogram

	// DispatchDuration tracks utterance submission latency until a response
	// arrives. Use with attribute.String("mode", ...).
	DispatchDuration metric.Float64Histogram

	// PlaybackDuration tracks response playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Utterances counts completed utterances. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("reason", ...)
	Utterances metric.Int64Counter

	// StateTransitions counts orchestrator transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// DroppedChunks counts audio chunks that never reached the transcriber.
	// Use with attribute.String("reason", ...).
	DroppedChunks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ClassifierFailures counts frames whose classification failed. Use with
	// attribute.String("kind", "vad"|"wake_word").
	ClassifierFailures metric.Int64Counter

	// DispatchFailures counts utterances the consumer could not accept.
	DispatchFailures metric.Int64Counter

	// PlaybackFailures counts response audio that could not be played.
	PlaybackFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of capture sessions holding an open
	// audio source.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTConnectDuration, err = m.Float64Histogram("voicefront.stt.connect.duration",
		metric.WithDescription("Latency of opening a streaming transcription connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("voicefront.dispatch.duration",
		metric.WithDescription("Latency from utterance dispatch to consumer response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voicefront.playback.duration",
		metric.WithDescription("Duration of response playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voicefront.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voicefront.utterances",
		metric.WithDescription("Total completed utterances by mode and end reason."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voicefront.session.transitions",
		metric.WithDescription("Total orchestrator state transitions."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("voicefront.audio.dropped_chunks",
		metric.WithDescription("Audio chunks dropped before transcription, by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voicefront.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFailures, err = m.Int64Counter("voicefront.classifier.failures",
		metric.WithDescription("Frames whose voice-activity or wake-word classification failed."),
	); err != nil {
		return nil, err
	}
	if met.DispatchFailures, err = m.Int64Counter("voicefront.dispatch.failures",
		metric.WithDescription("Utterances the consumer failed to accept."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("voicefront.playback.failures",
		metric.WithDescription("Responses whose audio could not be played."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voicefront.active_captures",
		metric.WithDescription("Number of capture sessions holding an open audio source."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicefront.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records a completed utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, mode, reason string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("reason", reason),
		),
	)
}

// RecordTransition records an orchestrator state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDroppedChunk records one audio chunk that was not transcribed.
func (m *Metrics) RecordDroppedChunk(ctx context.Context, reason string) {
	m.DroppedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClassifierFailure records one failed frame classification.
func (m *Metrics) RecordClassifierFailure(ctx context.Context, kind string) {
	m.ClassifierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
