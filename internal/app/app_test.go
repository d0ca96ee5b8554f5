package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/config"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/store"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type constScorer struct{}

func (constScorer) Predict([]float64) ([]float64, error) { return []float64{0.8, 0.2}, nil }
func (constScorer) InputWidth() int                      { return detector.FeatureWidth }

func newTestApp(t *testing.T, loader classifier.Loader) *App {
	return newTestAppWithClock(t, loader, nil)
}

func newTestAppWithClock(t *testing.T, loader classifier.Loader, clock func() time.Time) *App {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "kai.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})

	a, err := New(Config{
		Settings: config.Default(),
		Store:    s,
		Metrics:  metrics,
		Camera:   capture.NewBlankCamera(),
		Detector: det,
		Loader:   loader,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a store")
	}
}

func TestApp_LoadsModelAsync(t *testing.T) {
	a := newTestApp(t, func() (classifier.Scorer, []string, error) {
		return constScorer{}, []string{"A", classifier.NoGestureLabel}, nil
	})

	if a.Classifier().Status() != classifier.StatusLoading {
		t.Errorf("expected loading before Start, got %s", a.Classifier().Status())
	}

	a.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if a.Classifier().Status() != classifier.StatusReady {
		t.Errorf("expected ready, got %s", a.Classifier().Status())
	}
}

func TestApp_ModelLoadFailure(t *testing.T) {
	a := newTestApp(t, func() (classifier.Scorer, []string, error) {
		return nil, nil, errors.New("missing artifact")
	})
	a.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.WaitReady(ctx); err == nil {
		t.Fatal("expected load error")
	}

	err := a.Practice().StartCamera(context.Background(), "A")
	if !errors.Is(err, classifier.ErrModelUnavailable) {
		t.Errorf("expected practice to refuse without a model, got %v", err)
	}
	if got := a.Practice().Snapshot().Message; got != classifier.LoadErrorMessage {
		t.Errorf("expected load error message, got %q", got)
	}
}

func TestApp_ServerConfig(t *testing.T) {
	a := newTestApp(t, func() (classifier.Scorer, []string, error) {
		return constScorer{}, []string{"A", classifier.NoGestureLabel}, nil
	})

	sc := a.ServerConfig()
	if sc.Practice != a.Practice() || sc.Panel != a.Panel() || sc.Progress != a.Progress() {
		t.Error("server config should expose the app components")
	}
	if sc.Gate == nil {
		t.Error("expected gate with default credentials")
	}
	if sc.SubmitTimeout != 30*time.Second {
		t.Errorf("expected 30s submit timeout, got %s", sc.SubmitTimeout)
	}
}

func TestApp_ShutdownFinalizesSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	a := newTestApp(t, func() (classifier.Scorer, []string, error) {
		return constScorer{}, []string{"A", classifier.NoGestureLabel}, nil
	})
	a.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	if err := a.Practice().StartCamera(context.Background(), "A"); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := a.Practice().StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Practice().Snapshot().BestScore < 80 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	a.Shutdown()
	a.Shutdown()

	if st := a.Practice().Snapshot().State; st != practice.StateCameraOff {
		t.Errorf("expected camera off after shutdown, got %s", st)
	}
	data, err := a.Progress().Progress()
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if data["A"].Sessions != 1 || data["A"].BestScore < 80 {
		t.Errorf("expected finalized session for A, got %+v", data["A"])
	}
}

func TestApp_LoopsShareTimestamps(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// A stalled clock makes every timestamp come from bumping the last one
	stalled := time.UnixMilli(1_700_000_000_000)
	a := newTestAppWithClock(t, func() (classifier.Scorer, []string, error) {
		return constScorer{}, []string{"A", classifier.NoGestureLabel}, nil
	}, func() time.Time { return stalled })
	a.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	det := a.detector.(*detector.MockDetector)

	waitDetections := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for len(det.Timestamps()) < n && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if got := len(det.Timestamps()); got < n {
			t.Fatalf("expected %d detections, got %d", n, got)
		}
	}

	if err := a.Practice().StartCamera(context.Background(), "A"); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := a.Practice().StartScan(); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	waitDetections(3)
	if err := a.Practice().StopCamera(); err != nil {
		t.Fatalf("StopCamera: %v", err)
	}

	before := len(det.Timestamps())
	if err := a.Panel().StartCamera(context.Background()); err != nil {
		t.Fatalf("panel StartCamera: %v", err)
	}
	waitDetections(before + 3)
	a.Panel().StopCamera()

	ts := det.Timestamps()
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			t.Fatalf("timestamp %d = %d not after %d across loops", i, ts[i], ts[i-1])
		}
	}
}
