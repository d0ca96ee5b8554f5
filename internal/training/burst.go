package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/kai/internal/detector"
)

// Burst defaults.
const (
	DefaultBurstSamples   = 30
	DefaultBurstInterval  = 100 * time.Millisecond
	DefaultCountdown      = 3
	DefaultCountdownStep  = time.Second
	handMissingMessageTTL = 3 * time.Second
	burstDoneMessageTTL   = 4 * time.Second
	cancelledMessageTTL   = 3 * time.Second
)

// HandMissingMessage is shown when a capture needs a hand and none is visible.
const HandMissingMessage = "Hand not detected. Make sure your hand is visible."

var (
	// ErrHandNotDetected is returned when a burst is started with no hand visible.
	ErrHandNotDetected = errors.New("training: hand not detected")

	// ErrBusy is returned when an operation conflicts with a running burst or
	// submission.
	ErrBusy = errors.New("training: busy")
)

// BurstPhase is the state of the burst state machine.
type BurstPhase int

const (
	BurstIdle BurstPhase = iota
	BurstCountdown
	BurstCapturing
)

func (p BurstPhase) String() string {
	switch p {
	case BurstIdle:
		return "idle"
	case BurstCountdown:
		return "countdown"
	case BurstCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p BurstPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// burstTransitions lists the phases reachable from each phase. Any phase may
// fall back to idle when the burst is cancelled.
var burstTransitions = map[BurstPhase][]BurstPhase{
	BurstIdle:      {BurstCountdown},
	BurstCountdown: {BurstCapturing, BurstIdle},
	BurstCapturing: {BurstIdle},
}

func canEnter(from, to BurstPhase) bool {
	for _, p := range burstTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// BurstConfig controls burst timing.
type BurstConfig struct {
	// Samples is the number of capture ticks. Default: 30.
	Samples int

	// Interval is the period between capture ticks. Default: 100ms.
	Interval time.Duration

	// Countdown is the number of countdown steps. Default: 3.
	Countdown int

	// Step is the length of one countdown step. Default: 1s.
	Step time.Duration
}

// DefaultBurstConfig returns the standard 3 second countdown followed by 30
// ticks at 100ms.
func DefaultBurstConfig() BurstConfig {
	return BurstConfig{
		Samples:   DefaultBurstSamples,
		Interval:  DefaultBurstInterval,
		Countdown: DefaultCountdown,
		Step:      DefaultCountdownStep,
	}
}

func (c BurstConfig) withDefaults() BurstConfig {
	d := DefaultBurstConfig()
	if c.Samples <= 0 {
		c.Samples = d.Samples
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Countdown <= 0 {
		c.Countdown = d.Countdown
	}
	if c.Step <= 0 {
		c.Step = d.Step
	}
	return c
}

// BurstStatus is the observable state of a burst.
type BurstStatus struct {
	Phase     BurstPhase `json:"phase"`
	Countdown int        `json:"countdown"`
	Ticks     int        `json:"ticks"`
	Total     int        `json:"total"`
	Captured  int        `json:"captured"`
}

// burstHooks connect a Burster to its panel. They are always called without
// the burster lock held.
type burstHooks struct {
	hand    func() *detector.HandLandmarks
	label   func() string
	add     func(Sample)
	say     func(msg string, ttl time.Duration)
	changed func()
}

// Burster runs one timed capture burst at a time on its own goroutine.
type Burster struct {
	cfg   BurstConfig
	hooks burstHooks

	mu     sync.Mutex
	status BurstStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func newBurster(cfg BurstConfig, hooks burstHooks) *Burster {
	cfg = cfg.withDefaults()
	return &Burster{
		cfg:    cfg,
		hooks:  hooks,
		status: BurstStatus{Total: cfg.Samples},
	}
}

// Status returns the current burst state.
func (b *Burster) Status() BurstStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Running reports whether a burst is counting down or capturing.
func (b *Burster) Running() bool {
	return b.Status().Phase != BurstIdle
}

// Start begins a burst. It requires a visible hand and fails with ErrBusy
// while another burst runs.
func (b *Burster) Start() error {
	if b.Running() {
		return ErrBusy
	}
	if b.hooks.hand() == nil {
		b.hooks.say(HandMissingMessage, handMissingMessageTTL)
		return ErrHandNotDetected
	}

	b.mu.Lock()
	if !canEnter(b.status.Phase, BurstCountdown) {
		b.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.status = BurstStatus{Phase: BurstCountdown, Countdown: b.cfg.Countdown, Total: b.cfg.Samples}
	b.mu.Unlock()

	go b.run(ctx, done)
	return nil
}

// Cancel stops a running burst and waits for its goroutine to exit. Samples
// captured so far are kept.
func (b *Burster) Cancel() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current burst, if any, has finished.
func (b *Burster) Wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (b *Burster) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer b.enter(BurstIdle, func(s *BurstStatus) { s.Countdown = 0 })

	for n := b.cfg.Countdown; n > 0; n-- {
		b.update(func(s *BurstStatus) { s.Countdown = n })
		b.hooks.say(fmt.Sprintf("Get ready in %d...", n), 0)
		if !sleep(ctx, b.cfg.Step) {
			b.hooks.say("Capture cancelled.", cancelledMessageTTL)
			return
		}
	}

	b.enter(BurstCapturing, func(s *BurstStatus) { s.Countdown = 0 })
	b.hooks.say(fmt.Sprintf("Capturing %d samples! Hold the pose...", b.cfg.Samples), 0)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	captured := 0
	for tick := 1; tick <= b.cfg.Samples; tick++ {
		select {
		case <-ctx.Done():
			b.hooks.say(fmt.Sprintf("Capture cancelled. %d samples kept.", captured), cancelledMessageTTL)
			return
		case <-ticker.C:
		}

		// A tick with no hand appends nothing but still counts
		if hand := b.hooks.hand(); hand != nil {
			b.hooks.add(NewSample(*hand, b.hooks.label()))
			captured++
		}
		b.update(func(s *BurstStatus) {
			s.Ticks = tick
			s.Captured = captured
		})
	}

	b.hooks.say(fmt.Sprintf("Done! %d samples of %s captured.", captured, b.hooks.label()), burstDoneMessageTTL)
}

func (b *Burster) enter(to BurstPhase, fn func(*BurstStatus)) {
	b.mu.Lock()
	if canEnter(b.status.Phase, to) {
		b.status.Phase = to
	}
	if fn != nil {
		fn(&b.status)
	}
	if to == BurstIdle {
		b.cancel = nil
	}
	b.mu.Unlock()
	b.hooks.changed()
}

func (b *Burster) update(fn func(*BurstStatus)) {
	b.mu.Lock()
	fn(&b.status)
	b.mu.Unlock()
	b.hooks.changed()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
