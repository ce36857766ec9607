package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesEmitted.Add(ctx, 3)
	m.FramesDroppedLate.Add(ctx, 1)
	m.DrainRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	m.DrainRequests.Add(ctx, 2, metric.WithAttributes(attribute.String("status", "error")))

	rm := collect(t, reader)

	emitted := findMetric(rm, "avatarsync.frames.emitted")
	if emitted == nil {
		t.Fatal("frames.emitted metric not found")
	}
	sum, ok := emitted.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", emitted.Data)
	}
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("frames.emitted = %d, want 3", got)
	}

	drains := findMetric(rm, "avatarsync.drain.requests")
	if drains == nil {
		t.Fatal("drain.requests metric not found")
	}
	drainSum := drains.Data.(metricdata.Sum[int64])
	if len(drainSum.DataPoints) != 2 {
		t.Errorf("drain.requests datapoints = %d, want 2 (one per status)", len(drainSum.DataPoints))
	}
}

func TestUpDownCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	sessions := findMetric(rm, "avatarsync.sessions.active")
	if sessions == nil {
		t.Fatal("sessions.active metric not found")
	}
	sum := sessions.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("sessions.active = %d, want 1", got)
	}
}
