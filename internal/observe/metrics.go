// Package observe provides the observability layer for the call runtime:
// OpenTelemetry metrics with a Prometheus scrape bridge, tracing helpers,
// and HTTP middleware tying both to structured logs.
//
// Metrics are recorded through the OTel metrics API. A package-level default
// instance ([DefaultMetrics]) exists for convenience; tests should build
// their own via [NewMetrics] with a ManualReader to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all runtime metrics.
const meterName = "github.com/ringline-ai/ringline"

// Metrics holds every instrument the runtime records. All fields are safe
// for concurrent use; the OTel types synchronize internally.
type Metrics struct {
	// Latency histograms per pipeline stage.

	// STTDuration tracks transcription latency per utterance.
	STTDuration metric.Float64Histogram

	// BrainDuration tracks time from final utterance to first brain segment.
	BrainDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency per segment.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks caller-final to playback-start latency, the number
	// the caller actually perceives.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method and path.
	HTTPRequestDuration metric.Float64Histogram

	// Counters.

	// CallsStarted counts admitted calls by tenant.
	CallsStarted metric.Int64Counter

	// CapacityDenials counts rejected admissions by tenant and reason.
	CapacityDenials metric.Int64Counter

	// ProviderRequests counts STT/TTS/brain calls by provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// BargeIns counts caller interruptions of assistant playback.
	BargeIns metric.Int64Counter

	// DecodeFailures counts undecodable media frames by codec.
	DecodeFailures metric.Int64Counter

	// StreamRestarts counts codec-fallback restarts of media streams.
	StreamRestarts metric.Int64Counter

	// Gauges.

	// ActiveCalls tracks live call sessions.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries (seconds) sized for voice-turn
// latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "ringline.stt.duration", "Latency of speech-to-text transcription."},
		{&met.BrainDuration, "ringline.brain.duration", "Latency from final utterance to first brain segment."},
		{&met.TTSDuration, "ringline.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.TurnDuration, "ringline.turn.duration", "Caller-final to playback-start latency."},
		{&met.HTTPRequestDuration, "ringline.http.request.duration", "HTTP request latency by method and path."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.CallsStarted, "ringline.calls.started", "Total admitted calls by tenant."},
		{&met.CapacityDenials, "ringline.capacity.denials", "Total admission denials by tenant and reason."},
		{&met.ProviderRequests, "ringline.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "ringline.provider.errors", "Total provider errors by provider and kind."},
		{&met.BargeIns, "ringline.barge_ins", "Total caller barge-ins during assistant playback."},
		{&met.DecodeFailures, "ringline.media.decode_failures", "Total undecodable media frames by codec."},
		{&met.StreamRestarts, "ringline.media.stream_restarts", "Total codec-fallback media stream restarts."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("ringline.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Panics on instrument creation failure, which the global
// provider does not do.
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

// ---- convenience recorders ------------------------------------------------

// CallStarted records an admitted call and bumps the live-call gauge.
func (m *Metrics) CallStarted(ctx context.Context, tenantID string) {
	attrs := metric.WithAttributes(attribute.String("tenant", tenantID))
	m.CallsStarted.Add(ctx, 1, attrs)
	m.ActiveCalls.Add(ctx, 1, attrs)
}

// CallEnded drops the live-call gauge.
func (m *Metrics) CallEnded(ctx context.Context, tenantID string) {
	m.ActiveCalls.Add(ctx, -1, metric.WithAttributes(attribute.String("tenant", tenantID)))
}

// RecordCapacityDenial records one rejected admission.
func (m *Metrics) RecordCapacityDenial(ctx context.Context, tenantID, reason string) {
	m.CapacityDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("reason", reason),
	))
}

// RecordProviderRequest records one provider call with its outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBargeIn records a caller interrupting assistant playback.
func (m *Metrics) RecordBargeIn(ctx context.Context, tenantID string) {
	m.BargeIns.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenantID)))
}

// RecordDecodeFailure records one undecodable media frame.
func (m *Metrics) RecordDecodeFailure(ctx context.Context, codec string) {
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", codec)))
}

// RecordStreamRestart records one codec-fallback restart.
func (m *Metrics) RecordStreamRestart(ctx context.Context, codec string) {
	m.StreamRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", codec)))
}
