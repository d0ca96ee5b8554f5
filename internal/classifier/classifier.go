// Package classifier wraps the vowel recognition model. It turns a normalized
// landmark feature vector into a labeled prediction and applies the feedback
// gating used by the practice view.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// NoGestureLabel is the model class meaning "no vowel is being signed".
const NoGestureLabel = "Nulo"

var (
	// ErrModelUnavailable is returned when the model failed to load or is still loading.
	ErrModelUnavailable = errors.New("classifier: model unavailable")

	// ErrLabelMismatch is returned when the model output width differs from the label count.
	ErrLabelMismatch = errors.New("classifier: label count does not match model output")
)

// Status describes where the model is in its load lifecycle.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusFailed
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// User-facing load messages.
const (
	LoadingMessage   = "Loading AI and models..."
	LoadErrorMessage = "Error loading the models. Reload the page."
)

// Scorer produces one score per class for a feature vector.
type Scorer interface {
	Predict(features []float64) ([]float64, error)
	InputWidth() int
}

// Prediction is the winning class and its raw score.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Percent returns the confidence scaled to 0-100.
func (p Prediction) Percent() float64 {
	return p.Confidence * 100
}

// Loader produces a scorer and its label list.
type Loader func() (Scorer, []string, error)

// Adapter holds the loaded model and labels. It is safe for concurrent use.
// Until a load succeeds every classification reports no prediction.
type Adapter struct {
	mu      sync.RWMutex
	scorer  Scorer
	labels  []string
	status  Status
	loadErr error
	done    chan struct{}
	once    sync.Once
}

// NewAdapter creates an Adapter in the loading state.
func NewAdapter() *Adapter {
	return &Adapter{
		status: StatusLoading,
		done:   make(chan struct{}),
	}
}

// LoadAsync runs load in its own goroutine. The outcome is reported through
// Status, Err and Done. Only the first load call has any effect.
func (a *Adapter) LoadAsync(load Loader) {
	go a.Load(load)
}

// Load runs load synchronously and installs the result.
func (a *Adapter) Load(load Loader) error {
	var err error
	a.once.Do(func() {
		defer close(a.done)

		scorer, labels, lerr := load()
		if lerr == nil {
			lerr = a.install(scorer, labels)
		}
		if lerr != nil {
			a.mu.Lock()
			a.status = StatusFailed
			a.loadErr = lerr
			a.mu.Unlock()
			slog.Error("model load failed", "err", lerr)
			err = lerr
			return
		}
		slog.Info("model loaded", "labels", len(labels), "input_width", scorer.InputWidth())
	})
	return err
}

func (a *Adapter) install(scorer Scorer, labels []string) error {
	if scorer == nil {
		return fmt.Errorf("%w: nil scorer", ErrModelUnavailable)
	}
	if len(labels) == 0 {
		return fmt.Errorf("%w: empty label list", ErrLabelMismatch)
	}
	if ow, ok := scorer.(interface{ OutputWidth() int }); ok && ow.OutputWidth() != len(labels) {
		return fmt.Errorf("%w: %d outputs, %d labels", ErrLabelMismatch, ow.OutputWidth(), len(labels))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.scorer = scorer
	a.labels = append([]string(nil), labels...)
	a.status = StatusReady
	return nil
}

// Done is closed once loading has finished, successfully or not.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Status reports the load state.
func (a *Adapter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Err returns the load error, if loading failed.
func (a *Adapter) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loadErr
}

// Message returns the user-facing load message, or "" when the model is ready.
func (a *Adapter) Message() string {
	switch a.Status() {
	case StatusLoading:
		return LoadingMessage
	case StatusFailed:
		return LoadErrorMessage
	default:
		return ""
	}
}

// Labels returns a copy of the loaded label list.
func (a *Adapter) Labels() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.labels...)
}

// Classify scores features and returns the argmax class. It reports false
// when the model is not loaded, the feature width is wrong, the scorer fails
// or the winning index falls outside the label list.
func (a *Adapter) Classify(features []float64) (Prediction, bool) {
	a.mu.RLock()
	scorer, labels := a.scorer, a.labels
	a.mu.RUnlock()

	if scorer == nil || len(labels) == 0 {
		return Prediction{}, false
	}
	if len(features) != scorer.InputWidth() {
		slog.Debug("feature width mismatch", "got", len(features), "want", scorer.InputWidth())
		return Prediction{}, false
	}

	scores, err := scorer.Predict(features)
	if err != nil {
		slog.Debug("predict failed", "err", err)
		return Prediction{}, false
	}
	return argmax(scores, labels)
}

func argmax(scores []float64, labels []string) (Prediction, bool) {
	if len(scores) == 0 {
		return Prediction{}, false
	}
	idx := floats.MaxIdx(scores)
	if idx < 0 || idx >= len(labels) {
		return Prediction{}, false
	}
	conf := scores[idx]
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		return Prediction{}, false
	}
	return Prediction{Label: labels[idx], Confidence: conf}, true
}
