// Package training collects labeled landmark samples for the remote model
// trainer: manual and timed burst capture, a placeholder login gate and
// submission of the collected dataset.
package training

import (
	"sync"

	"github.com/ayusman/kai/internal/detector"
)

// Sample is one labeled training example. Landmarks are wrist-normalized.
type Sample struct {
	Landmarks []detector.Point3D `json:"landmarks"`
	Label     string             `json:"label"`
}

// NewSample normalizes hand and labels it.
func NewSample(hand detector.HandLandmarks, label string) Sample {
	return Sample{
		Landmarks: detector.NormalizePoints(hand.Points[:]),
		Label:     label,
	}
}

// Dataset is the in-memory list of collected samples. It is never persisted.
type Dataset struct {
	mu      sync.Mutex
	samples []Sample
}

// Append adds a sample.
func (d *Dataset) Append(s Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = append(d.samples, s)
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// Counts returns the number of samples per label.
func (d *Dataset) Counts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[string]int)
	for _, s := range d.samples {
		counts[s.Label]++
	}
	return counts
}

// Snapshot returns a copy of the samples in capture order.
func (d *Dataset) Snapshot() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Sample, len(d.samples))
	copy(out, d.samples)
	return out
}

// Clear drops every sample.
func (d *Dataset) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = nil
}
