// Package metrics holds the OpenTelemetry instruments for kalam and the
// Prometheus bridge that serves them on /metrics.
//
// Library code records through a *Metrics handed to it at construction; a nil
// *Metrics is valid and records nothing. Tests build their own instance with
// NewMetrics and a ManualReader instead of touching the global provider.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "kalam"

type Metrics struct {
	// ModelLoadDuration tracks how long a model load or switch takes.
	ModelLoadDuration metric.Float64Histogram

	// TranscribeDuration tracks inference latency for one recording.
	TranscribeDuration metric.Float64Histogram

	// RecordingDuration tracks the length of captured audio.
	RecordingDuration metric.Float64Histogram

	Recordings metric.Int64Counter

	// Transcriptions counts finished transcriptions by status (ok, empty, error).
	Transcriptions metric.Int64Counter

	// Errors counts user-visible failures by kind.
	Errors metric.Int64Counter
}

// Buckets in seconds. Model loads and inference on CPU run well past the
// usual request-latency range.
var (
	latencyBuckets   = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	recordingBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}
)

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ModelLoadDuration, err = m.Float64Histogram("kalam.model.load.duration",
		metric.WithDescription("Time to load a transcription model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("kalam.transcribe.duration",
		metric.WithDescription("Inference time for one transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("kalam.recording.duration",
		metric.WithDescription("Length of captured audio per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Recordings, err = m.Int64Counter("kalam.recordings",
		metric.WithDescription("Recordings captured with audio."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("kalam.transcriptions",
		metric.WithDescription("Finished transcriptions by status."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("kalam.errors",
		metric.WithDescription("User-visible errors by kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide instance backed by otel.GetMeterProvider.
// Call it after InitProvider so the instruments bind to the exporter.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordModelLoad(ctx context.Context, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLoadDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) RecordTranscription(ctx context.Context, model, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.Transcriptions.Add(ctx, 1, attrs)
	if status == "ok" {
		m.TranscribeDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("model", model)))
	}
}

func (m *Metrics) RecordRecording(ctx context.Context, audio time.Duration) {
	if m == nil {
		return
	}
	m.Recordings.Add(ctx, 1)
	m.RecordingDuration.Record(ctx, audio.Seconds())
}

func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
