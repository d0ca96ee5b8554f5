package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/pipeline"
	"github.com/ayusman/kai/internal/progress"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Owner is the name the controller acquires the camera under.
const Owner = "practice"

// DefaultFirstFrameTimeout bounds how long StartCamera waits for a usable frame.
const DefaultFirstFrameTimeout = 5 * time.Second

// ErrCameraUnavailable is returned when the camera cannot be opened or never
// produces a frame.
var ErrCameraUnavailable = errors.New("practice: camera unavailable")

// Finalizer records a finished session.
type Finalizer interface {
	Finalize(label string, score, elapsedSeconds float64) (progress.VowelProgress, error)
}

// Config holds the collaborators of a Controller.
type Config struct {
	Camera     *capture.Exclusive
	Detector   detector.Detector
	Classifier *classifier.Adapter
	Progress   Finalizer

	// Frames receives annotated frames while scanning. Optional.
	Frames *capture.FrameBuffer

	// Interval is the recognition tick period. Default: pipeline.DefaultInterval.
	Interval time.Duration

	// FirstFrameTimeout bounds the wait for the first ready frame.
	FirstFrameTimeout time.Duration

	// Now supplies session timing. Default: time.Now.
	Now func() time.Time

	// Timestamper supplies detection timestamps. Share it with every loop
	// that feeds the same detector. Default: a wall clock Timestamper.
	Timestamper *detector.Timestamper

	Metrics *observe.Metrics
}

// Snapshot is the observable state of the controller.
type Snapshot struct {
	State       State                   `json:"state"`
	Target      string                  `json:"target"`
	Feedback    classifier.Feedback     `json:"feedback"`
	BestScore   float64                 `json:"bestScore"`
	Message     string                  `json:"message"`
	ModelStatus string                  `json:"modelStatus"`
	LastSession *progress.VowelProgress `json:"lastSession,omitempty"`
}

// Controller drives one practice session at a time.
//
// opMu serializes the public operations. mu guards the fields read by the
// recognition callback, which runs on the loop goroutine.
type Controller struct {
	cfg Config

	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	target    string
	lease     *capture.Lease
	handle    *pipeline.Handle
	runID     uint64
	startedAt time.Time
	best      float64
	feedback  classifier.Feedback
	message   string
	last      *progress.VowelProgress

	notifier pipeline.Notifier[Snapshot]
}

// New creates a Controller in the camera-off state.
func New(cfg Config) *Controller {
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = DefaultFirstFrameTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timestamper == nil {
		cfg.Timestamper = detector.NewTimestamper(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		cfg:      cfg,
		state:    StateCameraOff,
		feedback: classifier.Evaluate(classifier.Prediction{}, false, ""),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving every state change.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.notifier.Subscribe()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       c.state,
		Target:      c.target,
		Feedback:    c.feedback,
		BestScore:   c.best,
		Message:     c.message,
		ModelStatus: c.cfg.Classifier.Status().String(),
		LastSession: c.last,
	}
	if snap.Message == "" {
		snap.Message = c.cfg.Classifier.Message()
	}
	return snap
}

func (c *Controller) publish() {
	c.notifier.Publish(c.Snapshot())
}

// modelReady returns ErrModelUnavailable unless the classifier has loaded.
func (c *Controller) modelReady() error {
	if c.cfg.Classifier.Status() != classifier.StatusReady {
		return fmt.Errorf("%w: %s", classifier.ErrModelUnavailable, c.cfg.Classifier.Message())
	}
	return nil
}

// StartCamera acquires the camera for practicing vowel and waits for the
// first ready frame.
func (c *Controller) StartCamera(ctx context.Context, vowel string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	entry, ok := classifier.LookupVowel(vowel)
	if !ok {
		return fmt.Errorf("%w: %q", classifier.ErrUnknownVowel, vowel)
	}
	vowel = entry.Letter
	if err := c.modelReady(); err != nil {
		return err
	}

	c.mu.Lock()
	to, err := next(c.state, evStartCamera)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	lease, err := c.cfg.Camera.Acquire(Owner, c.revoked)
	if err != nil {
		c.setMessage("Could not access the camera. Check the permissions and try again.")
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	if err := capture.WaitReady(ctx, lease.Camera(), c.cfg.FirstFrameTimeout); err != nil {
		lease.Release()
		c.setMessage("Could not access the camera. Check the permissions and try again.")
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	c.mu.Lock()
	c.lease = lease
	c.state = to
	c.target = vowel
	c.best = 0
	c.last = nil
	c.message = ""
	c.feedback = classifier.Evaluate(classifier.Prediction{}, false, vowel)
	c.mu.Unlock()

	slog.Info("practice camera on", "vowel", vowel)
	c.publish()
	return nil
}

// StartScan resets the running best score, records the start time and
// starts the recognition loop.
func (c *Controller) StartScan() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.modelReady(); err != nil {
		return err
	}

	c.mu.Lock()
	to, err := next(c.state, evStartScan)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.runID++
	runID := c.runID
	c.best = 0
	c.startedAt = c.cfg.Now()
	c.message = ""
	c.feedback = classifier.Evaluate(classifier.Prediction{}, false, c.target)

	loop := pipeline.New(pipeline.Config{
		Name:     Owner,
		Camera:   c.lease.Camera(),
		Detector: c.cfg.Detector,
		Frames:   c.cfg.Frames,
		OnHand:   c.recognize(runID),
		Interval: c.cfg.Interval,
		Metrics:  c.cfg.Metrics,

		Timestamper: c.cfg.Timestamper,
	})
	c.handle = loop.Start(context.Background(), func(err error) { c.faulted(runID, err) })
	c.state = to
	target := c.target
	c.mu.Unlock()

	slog.Info("practice scan started", "vowel", target)
	c.publish()
	return nil
}

// StopScan stops the recognition loop, waits for it to exit and records the
// session. It is the only path that finalizes a session.
func (c *Controller) StopScan() (progress.VowelProgress, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopScanLocked()
}

// stopScanLocked requires opMu.
func (c *Controller) stopScanLocked() (progress.VowelProgress, error) {
	c.mu.Lock()
	to, err := next(c.state, evStopScan)
	if err != nil {
		c.mu.Unlock()
		return progress.VowelProgress{}, err
	}
	c.state = to
	handle := c.handle
	c.handle = nil
	// Invalidate the run so late callbacks are ignored
	c.runID++
	target, best, startedAt := c.target, c.best, c.startedAt
	c.mu.Unlock()

	if err := handle.Stop(); err != nil {
		slog.Debug("recognition loop ended with fault", "err", err)
	}

	elapsed := c.cfg.Now().Sub(startedAt).Seconds()
	vp, err := c.cfg.Progress.Finalize(target, best, elapsed)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("vowel", target))
	c.cfg.Metrics.SessionsFinalized.Add(ctx, 1, attrs)
	c.cfg.Metrics.SessionDuration.Record(ctx, elapsed, attrs)

	c.mu.Lock()
	if err != nil {
		c.message = "Could not save your progress."
	} else {
		c.last = &vp
	}
	c.mu.Unlock()

	if err != nil {
		slog.Error("finalize session", "vowel", target, "err", err)
		c.publish()
		return progress.VowelProgress{}, fmt.Errorf("finalize session: %w", err)
	}

	slog.Info("practice scan stopped", "vowel", target, "best", best, "elapsed", elapsed)
	c.publish()
	return vp, nil
}

// StopCamera stops any running scan, releases the camera and returns to the
// camera-off state.
func (c *Controller) StopCamera() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopCameraLocked()
}

// stopCameraLocked requires opMu.
func (c *Controller) stopCameraLocked() error {
	c.mu.Lock()
	scanning := c.state == StateScanning
	if !scanning {
		if _, err := next(c.state, evStopCamera); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	// No session is dropped: a running scan is finalized first
	var finalizeErr error
	if scanning {
		_, finalizeErr = c.stopScanLocked()
	}

	c.mu.Lock()
	to, err := next(c.state, evStopCamera)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	lease := c.lease
	c.lease = nil
	c.state = to
	c.mu.Unlock()

	if lease != nil {
		if err := lease.Release(); err != nil {
			slog.Debug("release camera", "err", err)
		}
	}
	if c.cfg.Frames != nil {
		c.cfg.Frames.Clear()
	}

	slog.Info("practice camera off")
	c.publish()
	return finalizeErr
}

// Shutdown releases everything, finalizing a running session.
func (c *Controller) Shutdown() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Snapshot().State == StateCameraOff {
		return
	}
	if err := c.stopCameraLocked(); err != nil {
		slog.Warn("practice shutdown", "err", err)
	}
}

// revoked runs when another owner takes the camera.
func (c *Controller) revoked() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Snapshot().State == StateCameraOff {
		return
	}
	if err := c.stopCameraLocked(); err != nil {
		slog.Warn("practice camera revoked", "err", err)
	}
	c.setMessage("The camera is in use by the training panel.")
}

// faulted runs on the loop goroutine after a tick fault ended the loop.
func (c *Controller) faulted(runID uint64, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.runID == runID && c.state == StateScanning
	c.mu.Unlock()
	if !current {
		return
	}

	slog.Error("recognition stopped by fault", "err", cause)
	if _, err := c.stopScanLocked(); err != nil {
		slog.Error("finalize after fault", "err", err)
	}
	c.setMessage("Recognition stopped unexpectedly. Your session was saved.")
}

// recognize returns the hand callback for one scan run.
func (c *Controller) recognize(runID uint64) pipeline.HandFunc {
	return func(ctx context.Context, hand detector.HandLandmarks) {
		p, ok := c.cfg.Classifier.Classify(hand.Features())
		if ok {
			c.cfg.Metrics.Predictions.Add(ctx, 1, metric.WithAttributes(attribute.String("label", p.Label)))
		}

		c.mu.Lock()
		if c.runID != runID || c.state != StateScanning {
			c.mu.Unlock()
			return
		}
		c.feedback = classifier.Evaluate(p, ok, c.target)
		if ok && p.Percent() > c.best {
			c.best = p.Percent()
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.notifier.Publish(snap)
	}
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
	c.publish()
}
