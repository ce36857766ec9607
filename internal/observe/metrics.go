// Package observe provides OpenTelemetry metrics for the sync engine, with a
// Prometheus exporter bridge so the standard /metrics endpoint keeps working.
// Tests should construct [Metrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all avatarsync metrics.
const meterName = "github.com/normanking/avatarsync"

// Metrics holds the metric instruments used across the engine. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// FramesEmitted counts frames promoted to current weights.
	FramesEmitted metric.Int64Counter

	// FramesDroppedLate counts frames discarded because they were scheduled
	// or delivered past their useful window.
	FramesDroppedLate metric.Int64Counter

	// DrainRequests counts generation requests. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	DrainRequests metric.Int64Counter

	// DrainDuration tracks generation request latency.
	DrainDuration metric.Float64Histogram

	// AudioBytesSent counts canonical PCM bytes shipped to the service.
	AudioBytesSent metric.Int64Counter

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// generation round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesEmitted, err = m.Int64Counter("avatarsync.frames.emitted",
		metric.WithDescription("Frames promoted to current blendshape weights."),
	); err != nil {
		return nil, err
	}
	if met.FramesDroppedLate, err = m.Int64Counter("avatarsync.frames.dropped_late",
		metric.WithDescription("Frames dropped past their playback window."),
	); err != nil {
		return nil, err
	}
	if met.DrainRequests, err = m.Int64Counter("avatarsync.drain.requests",
		metric.WithDescription("Audio drain requests to the generation service."),
	); err != nil {
		return nil, err
	}
	if met.DrainDuration, err = m.Float64Histogram("avatarsync.drain.duration",
		metric.WithDescription("Latency of generation requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("avatarsync.drain.audio_bytes",
		metric.WithDescription("Canonical PCM bytes sent to the generation service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("avatarsync.sessions.active",
		metric.WithDescription("Live sessions in the store."),
	); err != nil {
		return nil, err
	}

	return met, nil
}
