package detector

import (
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// timestampMs must be strictly increasing across calls.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat, timestampMs int64) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}

// Timestamper hands out strictly increasing millisecond timestamps derived
// from the wall clock. When the clock stalls or steps backwards the previous
// value is bumped by one.
type Timestamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewTimestamper creates a Timestamper reading the given clock.
// A nil clock uses time.Now.
func NewTimestamper(now func() time.Time) *Timestamper {
	if now == nil {
		now = time.Now
	}
	return &Timestamper{now: now}
}

// Next returns the next timestamp in milliseconds.
func (t *Timestamper) Next() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now().UnixMilli()
	if ts <= t.last {
		ts = t.last + 1
	}
	t.last = ts
	return ts
}

// Latest holds the most recently detected hand. The detection tick is the only
// writer; capture actions read it.
type Latest struct {
	hand atomic.Pointer[HandLandmarks]
}

// Store records hand as the latest detection. A nil hand means no hand is
// currently visible.
func (l *Latest) Store(hand *HandLandmarks) {
	if hand == nil {
		l.hand.Store(nil)
		return
	}
	h := *hand
	l.hand.Store(&h)
}

// Load returns a copy of the latest hand, or nil when none is visible.
func (l *Latest) Load() *HandLandmarks {
	h := l.hand.Load()
	if h == nil {
		return nil
	}
	c := *h
	return &c
}
