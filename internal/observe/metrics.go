// Package observe provides OpenTelemetry metrics for Kai and the HTTP
// middleware that records request timings.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through a Prometheus exporter set up by [InitProvider]. Tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kai metrics.
const meterName = "github.com/ayusman/kai"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// FramesProcessed counts frames that reached detection. Use with attribute:
	//   attribute.String("loop", ...)
	FramesProcessed metric.Int64Counter

	// FramesSkipped counts ticks skipped because no frame was ready.
	FramesSkipped metric.Int64Counter

	// DetectDuration tracks per-frame hand detection latency.
	DetectDuration metric.Float64Histogram

	// Predictions counts classifier predictions. Use with attribute:
	//   attribute.String("label", ...)
	Predictions metric.Int64Counter

	// TickFaults counts loop ticks that ended the loop.
	TickFaults metric.Int64Counter

	// SessionsFinalized counts practice sessions written to progress. Use with
	// attribute: attribute.String("vowel", ...)
	SessionsFinalized metric.Int64Counter

	// SessionDuration tracks practice session length.
	SessionDuration metric.Float64Histogram

	// SamplesCaptured counts training samples added to the dataset. Use with
	// attribute: attribute.String("label", ...)
	SamplesCaptured metric.Int64Counter

	// Submissions counts dataset submissions. Use with attribute:
	//   attribute.String("status", ...)
	Submissions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var detectBuckets = []float64{
	0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25, 0.5, 1,
}

var sessionBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("kai.frames.processed",
		metric.WithDescription("Frames passed to hand detection."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("kai.frames.skipped",
		metric.WithDescription("Loop ticks skipped because the frame was not ready."),
	); err != nil {
		return nil, err
	}
	if met.DetectDuration, err = m.Float64Histogram("kai.detect.duration",
		metric.WithDescription("Latency of hand detection per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Predictions, err = m.Int64Counter("kai.predictions",
		metric.WithDescription("Classifier predictions by label."),
	); err != nil {
		return nil, err
	}
	if met.TickFaults, err = m.Int64Counter("kai.loop.faults",
		metric.WithDescription("Loop ticks that failed and stopped the loop."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFinalized, err = m.Int64Counter("kai.sessions.finalized",
		metric.WithDescription("Practice sessions recorded by vowel."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("kai.session.duration",
		metric.WithDescription("Length of practice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SamplesCaptured, err = m.Int64Counter("kai.training.samples",
		metric.WithDescription("Training samples captured by label."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("kai.training.submissions",
		metric.WithDescription("Training dataset submissions by status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kai.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
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
