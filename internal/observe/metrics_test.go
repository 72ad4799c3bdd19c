package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			if met.Name == name {
				return met, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumInt64(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T; want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCallStarted_BumpsCounterAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx, "acme")
	m.CallStarted(ctx, "acme")
	m.CallEnded(ctx, "acme")

	started, ok := findMetric(t, reader, "ringline.calls.started")
	if !ok {
		t.Fatal("calls.started not collected")
	}
	if got := sumInt64(t, started); got != 2 {
		t.Errorf("calls.started = %d; want 2", got)
	}
	active, ok := findMetric(t, reader, "ringline.active_calls")
	if !ok {
		t.Fatal("active_calls not collected")
	}
	if got := sumInt64(t, active); got != 1 {
		t.Errorf("active_calls = %d; want 1", got)
	}
}

func TestCapacityDenials_LabelledByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCapacityDenial(ctx, "acme", "tenant_limit")
	m.RecordCapacityDenial(ctx, "acme", "global_limit")

	denials, ok := findMetric(t, reader, "ringline.capacity.denials")
	if !ok {
		t.Fatal("capacity.denials not collected")
	}
	sum := denials.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("got %d data points; want 2 (one per reason)", len(sum.DataPoints))
	}
}

func TestSTTDuration_RecordsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.STTDuration.Record(context.Background(), 0.42)

	met, ok := findMetric(t, reader, "ringline.stt.duration")
	if !ok {
		t.Fatal("stt.duration not collected")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("stt.duration is %T; want Histogram[float64]", met.Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("count = %d; want 1", hist.DataPoints[0].Count)
	}
	if hist.DataPoints[0].Sum != 0.42 {
		t.Errorf("sum = %v; want 0.42", hist.DataPoints[0].Sum)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned two distinct instances")
	}
}
