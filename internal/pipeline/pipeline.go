// Package pipeline runs the per-frame recognition loop: read a frame, detect
// hands with a monotonic timestamp, hand the first hand to a callback and
// paint its skeleton onto the published frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultInterval is the tick period when none is configured (~30 FPS).
const DefaultInterval = time.Second / 30

// ErrTickPanic wraps a panic recovered inside a tick.
var ErrTickPanic = errors.New("pipeline: tick panicked")

// HandFunc receives the first detected hand of a frame.
type HandFunc func(ctx context.Context, hand detector.HandLandmarks)

// Config holds the collaborators of a Loop.
type Config struct {
	// Name labels the loop in logs and metrics.
	Name string

	Camera   capture.Camera
	Detector detector.Detector

	// Latest receives the first hand of each frame, or nil when none is visible.
	Latest *detector.Latest

	// Frames receives annotated frames for streaming. Optional.
	Frames *capture.FrameBuffer

	// OnHand is called for the first hand of each frame. Optional.
	OnHand HandFunc

	// Interval is the tick period. Default: DefaultInterval.
	Interval time.Duration

	// Timestamper supplies detection timestamps. Default: wall clock.
	Timestamper *detector.Timestamper

	// Metrics records loop metrics. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Loop processes frames one tick at a time.
type Loop struct {
	cfg   Config
	attrs metric.MeasurementOption
}

// New creates a Loop from cfg.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timestamper == nil {
		cfg.Timestamper = detector.NewTimestamper(nil)
	}
	if cfg.Latest == nil {
		cfg.Latest = &detector.Latest{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Loop{
		cfg:   cfg,
		attrs: metric.WithAttributes(attribute.String("loop", cfg.Name)),
	}
}

// Latest returns the hand slot the loop writes to.
func (l *Loop) Latest() *detector.Latest {
	return l.cfg.Latest
}

// Step runs a single tick. A frame that is not ready is skipped without
// error. Any other failure, including a panic, is returned as a fault.
func (l *Loop) Step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTickPanic, r)
		}
	}()

	frame, err := l.cfg.Camera.ReadFrame()
	if errors.Is(err, capture.ErrFrameNotReady) {
		l.cfg.Metrics.FramesSkipped.Add(ctx, 1, l.attrs)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	defer frame.Close()

	start := time.Now()
	hands, err := l.cfg.Detector.Detect(frame, l.cfg.Timestamper.Next())
	l.cfg.Metrics.DetectDuration.Record(ctx, time.Since(start).Seconds(), l.attrs)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	l.cfg.Metrics.FramesProcessed.Add(ctx, 1, l.attrs)

	if len(hands) == 0 {
		l.cfg.Latest.Store(nil)
	} else {
		hand := hands[0]
		l.cfg.Latest.Store(&hand)
		if l.cfg.OnHand != nil {
			l.cfg.OnHand(ctx, hand)
		}
		capture.DrawHand(frame, hand)
	}

	if l.cfg.Frames != nil {
		if err := l.cfg.Frames.Publish(frame); err != nil {
			slog.Debug("publish frame", "loop", l.cfg.Name, "err", err)
		}
	}
	return nil
}

// Run ticks until ctx is cancelled or a tick faults. It returns nil on
// cancellation and the fault otherwise. The latest hand is cleared on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer l.cfg.Latest.Store(nil)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A cancelled context wins over a ready tick.
			if ctx.Err() != nil {
				return nil
			}
			if err := l.Step(ctx); err != nil {
				l.cfg.Metrics.TickFaults.Add(ctx, 1, l.attrs)
				slog.Error("loop fault", "loop", l.cfg.Name, "err", err)
				return err
			}
		}
	}
}
