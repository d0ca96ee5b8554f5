package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Owner is the name the panel acquires the camera under.
const Owner = "training"

// DefaultFirstFrameTimeout bounds how long StartCamera waits for a usable frame.
const DefaultFirstFrameTimeout = 5 * time.Second

// Panel status messages.
const (
	SendingMessage    = "Sending data to the server..."
	SentMessage       = "Data sent! Check the server terminal to see the progress."
	SendErrorMessage  = "Error connecting to the server. Is it running?"
	NoDataMessage     = "No data to send."
	CameraBusyMessage = "The camera is in use by a practice session."
	CameraFailMessage = "Could not access the camera. Check the permissions and try again."
)

var (
	// ErrCameraOff is returned by operations that need the camera running.
	ErrCameraOff = errors.New("training: camera is off")

	// ErrCameraUnavailable is returned when the camera cannot be opened.
	ErrCameraUnavailable = errors.New("training: camera unavailable")

	// ErrUnknownLabel is returned by SetLabel for a label outside the catalog.
	ErrUnknownLabel = errors.New("training: unknown label")
)

// Config holds the collaborators of a Panel.
type Config struct {
	Camera   *capture.Exclusive
	Detector detector.Detector

	// Frames receives annotated frames while the camera is on. Optional.
	Frames *capture.FrameBuffer

	// Submitter sends the dataset. Optional; without it Submit fails with
	// ErrNoEndpoint.
	Submitter *Submitter

	// Interval is the detection tick period. Default: pipeline.DefaultInterval.
	Interval time.Duration

	Burst BurstConfig

	// FirstFrameTimeout bounds the wait for the first ready frame.
	FirstFrameTimeout time.Duration

	// Timestamper supplies detection timestamps. Share it with every loop
	// that feeds the same detector. Default: a wall clock Timestamper.
	Timestamper *detector.Timestamper

	Metrics *observe.Metrics
}

// Status is the observable state of the panel.
type Status struct {
	CameraOn    bool           `json:"cameraOn"`
	HandVisible bool           `json:"handVisible"`
	Label       string         `json:"label"`
	Labels      []string       `json:"labels"`
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
	Burst       BurstStatus    `json:"burst"`
	Sending     bool           `json:"sending"`
	Message     string         `json:"message"`
}

// Panel drives supervised sample collection.
type Panel struct {
	cfg     Config
	labels  []string
	dataset Dataset
	latest  detector.Latest
	burster *Burster

	opMu sync.Mutex

	mu       sync.Mutex
	cameraOn bool
	lease    *capture.Lease
	handle   *pipeline.Handle
	runID    uint64
	label    string
	sending  bool
	message  string
	msgGen   uint64
	msgTimer *time.Timer

	notifier pipeline.Notifier[Status]
}

// NewPanel creates a Panel with the camera off and the first vowel selected.
func NewPanel(cfg Config) *Panel {
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = DefaultFirstFrameTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Timestamper == nil {
		cfg.Timestamper = detector.NewTimestamper(nil)
	}

	labels := classifier.TrainingLabels()
	p := &Panel{
		cfg:    cfg,
		labels: labels,
		label:  labels[0],
	}
	p.burster = newBurster(cfg.Burst, burstHooks{
		hand:    p.latest.Load,
		label:   p.Label,
		add:     p.add,
		say:     p.say,
		changed: p.publish,
	})
	return p
}

// Status returns the current panel state.
func (p *Panel) Status() Status {
	p.mu.Lock()
	st := Status{
		CameraOn: p.cameraOn,
		Label:    p.label,
		Labels:   p.labels,
		Sending:  p.sending,
		Message:  p.message,
	}
	p.mu.Unlock()

	st.HandVisible = p.latest.Load() != nil
	st.Counts = p.dataset.Counts()
	st.Total = p.dataset.Len()
	st.Burst = p.burster.Status()
	return st
}

// Subscribe returns a channel receiving every state change.
func (p *Panel) Subscribe() (<-chan Status, func()) {
	return p.notifier.Subscribe()
}

// Samples returns a copy of the collected dataset.
func (p *Panel) Samples() []Sample {
	return p.dataset.Snapshot()
}

// Label returns the selected label.
func (p *Panel) Label() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label
}

// SetLabel selects the label applied to new samples. A running burst picks
// the new label up on its next tick.
func (p *Panel) SetLabel(label string) error {
	if !slices.Contains(p.labels, label) {
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	p.mu.Lock()
	p.label = label
	p.mu.Unlock()

	p.publish()
	return nil
}

// StartCamera acquires the camera and starts the detection-only loop.
func (p *Panel) StartCamera(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	on := p.cameraOn
	p.mu.Unlock()
	if on {
		return nil
	}

	lease, err := p.cfg.Camera.Acquire(Owner, p.revoked)
	if err != nil {
		p.say(CameraFailMessage, 0)
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if err := capture.WaitReady(ctx, lease.Camera(), p.cfg.FirstFrameTimeout); err != nil {
		lease.Release()
		p.say(CameraFailMessage, 0)
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	loop := pipeline.New(pipeline.Config{
		Name:     Owner,
		Camera:   lease.Camera(),
		Detector: p.cfg.Detector,
		Latest:   &p.latest,
		Frames:   p.cfg.Frames,
		Interval: p.cfg.Interval,
		Metrics:  p.cfg.Metrics,

		Timestamper: p.cfg.Timestamper,
	})

	p.mu.Lock()
	p.runID++
	runID := p.runID
	p.lease = lease
	p.cameraOn = true
	p.handle = loop.Start(context.Background(), func(err error) { p.faulted(runID, err) })
	p.mu.Unlock()

	p.say("", 0)
	slog.Info("training camera on")
	return nil
}

// StopCamera cancels any running burst, stops the loop and releases the
// camera. Stopping a camera that is off is a no-op.
func (p *Panel) StopCamera() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.stopCameraLocked()
}

// stopCameraLocked requires opMu.
func (p *Panel) stopCameraLocked() {
	p.burster.Cancel()

	p.mu.Lock()
	if !p.cameraOn {
		p.mu.Unlock()
		return
	}
	p.cameraOn = false
	p.runID++
	handle, lease := p.handle, p.lease
	p.handle, p.lease = nil, nil
	p.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(); err != nil {
			slog.Debug("detection loop ended with fault", "err", err)
		}
	}
	p.latest.Store(nil)
	if lease != nil {
		if err := lease.Release(); err != nil {
			slog.Debug("release camera", "err", err)
		}
	}
	if p.cfg.Frames != nil {
		p.cfg.Frames.Clear()
	}

	slog.Info("training camera off")
	p.publish()
}

// Capture appends one sample from the latest hand with the selected label.
// It reports false, and shows a hint, when no hand is visible.
func (p *Panel) Capture() bool {
	hand := p.latest.Load()
	if hand == nil {
		p.say(HandMissingMessage, handMissingMessageTTL)
		return false
	}
	p.add(NewSample(*hand, p.Label()))
	p.publish()
	return true
}

// StartBurst starts a timed capture burst.
func (p *Panel) StartBurst() error {
	p.mu.Lock()
	on, sending := p.cameraOn, p.sending
	p.mu.Unlock()

	if !on {
		return ErrCameraOff
	}
	if sending {
		return ErrBusy
	}
	if err := p.burster.Start(); err != nil {
		return err
	}
	p.publish()
	return nil
}

// Clear empties the dataset. It is rejected while a burst or a submission runs.
func (p *Panel) Clear() error {
	p.mu.Lock()
	sending := p.sending
	p.mu.Unlock()

	if sending || p.burster.Running() {
		return ErrBusy
	}
	p.dataset.Clear()
	p.say("", 0)
	return nil
}

// Submit sends the whole dataset. The dataset is kept whatever the outcome.
func (p *Panel) Submit(ctx context.Context) (string, error) {
	if p.dataset.Len() == 0 {
		p.say(NoDataMessage, 0)
		return "", ErrEmptyDataset
	}
	if p.cfg.Submitter == nil {
		p.say(SendErrorMessage, 0)
		return "", ErrNoEndpoint
	}

	p.mu.Lock()
	if p.sending || p.burster.Running() {
		p.mu.Unlock()
		return "", ErrBusy
	}
	p.sending = true
	p.mu.Unlock()
	p.say(SendingMessage, 0)

	batchID, err := p.cfg.Submitter.Submit(ctx, p.dataset.Snapshot())

	p.mu.Lock()
	p.sending = false
	p.mu.Unlock()

	if err != nil {
		slog.Warn("training submission failed", "err", err)
		p.say(SendErrorMessage, 0)
		return "", err
	}
	p.say(SentMessage, 0)
	return batchID, nil
}

// Shutdown stops the camera and any burst.
func (p *Panel) Shutdown() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.stopCameraLocked()
}

func (p *Panel) add(s Sample) {
	p.dataset.Append(s)
	p.cfg.Metrics.SamplesCaptured.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("label", s.Label)))
}

// revoked runs when another owner takes the camera.
func (p *Panel) revoked() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	on := p.cameraOn
	p.mu.Unlock()
	if !on {
		return
	}
	p.stopCameraLocked()
	p.say(CameraBusyMessage, 0)
}

// faulted runs on the loop goroutine after a tick fault ended the loop.
func (p *Panel) faulted(runID uint64, cause error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	current := p.cameraOn && p.runID == runID
	p.mu.Unlock()
	if !current {
		return
	}

	slog.Error("detection stopped by fault", "err", cause)
	p.stopCameraLocked()
	p.say("Detection stopped unexpectedly. Start the camera again.", 0)
}

// say replaces the status message. A positive ttl clears it again unless a
// newer message has replaced it in the meantime.
func (p *Panel) say(msg string, ttl time.Duration) {
	p.mu.Lock()
	p.msgGen++
	gen := p.msgGen
	p.message = msg
	if p.msgTimer != nil {
		p.msgTimer.Stop()
		p.msgTimer = nil
	}
	if ttl > 0 {
		p.msgTimer = time.AfterFunc(ttl, func() { p.expire(gen) })
	}
	p.mu.Unlock()

	p.publish()
}

func (p *Panel) expire(gen uint64) {
	p.mu.Lock()
	if p.msgGen != gen {
		p.mu.Unlock()
		return
	}
	p.message = ""
	p.msgTimer = nil
	p.mu.Unlock()

	p.publish()
}

func (p *Panel) publish() {
	p.notifier.Publish(p.Status())
}
