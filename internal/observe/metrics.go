// Package observe records pipeline metrics through the OpenTelemetry Metrics
// API. [InitProvider] installs a Prometheus exporter so they can be scraped
// from /metrics; tests should build [Metrics] with [NewMetrics] on their own
// provider.
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bryanchriswhite/capturepipe"

// Metrics holds the instruments shared by every pipeline
type Metrics struct {
	// Ticks counts completed ticks. Attributes: pipeline
	Ticks metric.Int64Counter

	// Stalls counts ticks cut short by a stage with no output. Attributes: pipeline
	Stalls metric.Int64Counter

	// Failures counts fatal stage errors. Attributes: pipeline, stage
	Failures metric.Int64Counter

	// StageDuration tracks Process latency. Attributes: pipeline, stage
	StageDuration metric.Float64Histogram

	// ActiveRecordings tracks recording sessions between start and stop
	ActiveRecordings metric.Int64UpDownCounter
}

// stageBuckets are in seconds; a 60 fps tick is about 0.016
var stageBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.033, 0.05, 0.1, 0.25,
}

// NewMetrics creates every instrument on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("capturepipe.pipeline.ticks",
		metric.WithDescription("Ticks that ran through every stage."),
	); err != nil {
		return nil, err
	}
	if met.Stalls, err = m.Int64Counter("capturepipe.pipeline.stalls",
		metric.WithDescription("Ticks stopped early because a stage had no output yet."),
	); err != nil {
		return nil, err
	}
	if met.Failures, err = m.Int64Counter("capturepipe.pipeline.failures",
		metric.WithDescription("Fatal processing errors by stage."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("capturepipe.stage.duration",
		metric.WithDescription("Latency of one stage Process call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("capturepipe.recordings.active",
		metric.WithDescription("Recording sessions currently capturing or paused."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance built on the global meter
// provider the first time it is called
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

// Observer adapts the metrics to one engine
func (m *Metrics) Observer(pipelineName string) pipeline.Observer {
	return &engineObserver{
		m:     m,
		attrs: metric.WithAttributes(attribute.String("pipeline", pipelineName)),
		name:  pipelineName,
	}
}

type engineObserver struct {
	m     *Metrics
	attrs metric.MeasurementOption
	name  string
}

func (o *engineObserver) TickCompleted(stalled bool) {
	ctx := context.Background()
	if stalled {
		o.m.Stalls.Add(ctx, 1, o.attrs)
		return
	}
	o.m.Ticks.Add(ctx, 1, o.attrs)
}

func (o *engineObserver) StageProcessed(stage string, d time.Duration) {
	o.m.StageDuration.Record(context.Background(), d.Seconds(), o.stageAttrs(stage))
}

func (o *engineObserver) StageFailed(stage string) {
	o.m.Failures.Add(context.Background(), 1, o.stageAttrs(stage))
}

func (o *engineObserver) stageAttrs(stage string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("pipeline", o.name),
		attribute.String("stage", stage),
	)
}
