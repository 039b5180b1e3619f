package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, not an int64 sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestObserverCounts(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := m.Observer("video")

	for i := 0; i < 5; i++ {
		obs.TickCompleted(false)
	}
	obs.TickCompleted(true)
	obs.TickCompleted(true)
	obs.StageFailed("encode-A")

	rm := collect(t, reader)
	if got := counterTotal(t, rm, "capturepipe.pipeline.ticks"); got != 5 {
		t.Errorf("ticks = %d, want 5", got)
	}
	if got := counterTotal(t, rm, "capturepipe.pipeline.stalls"); got != 2 {
		t.Errorf("stalls = %d, want 2", got)
	}
	if got := counterTotal(t, rm, "capturepipe.pipeline.failures"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestStageDurationAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := m.Observer("audio-render")
	obs.StageProcessed("audio-capture", 4*time.Millisecond)
	obs.StageProcessed("wav-sink", time.Millisecond)

	met := findMetric(collect(t, reader), "capturepipe.stage.duration")
	if met == nil {
		t.Fatal("stage duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("stage duration is %T", met.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("got %d data points, want one per stage", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("pipeline")); !ok || v.AsString() != "audio-render" {
			t.Errorf("pipeline attribute = %v", v)
		}
		if dp.Count != 1 {
			t.Errorf("count = %d, want 1", dp.Count)
		}
	}
}

func TestActiveRecordings(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)

	if got := counterTotal(t, collect(t, reader), "capturepipe.recordings.active"); got != 1 {
		t.Errorf("active recordings = %d, want 1", got)
	}
}
