// Package app wires the camera, detector, classifier, progress store,
// practice controller and training panel into one application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/config"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/progress"
	"github.com/ayusman/kai/internal/server"
	"github.com/ayusman/kai/internal/store"
	"github.com/ayusman/kai/internal/training"
)

// Config holds configuration options for the application.
type Config struct {
	Settings *config.Config
	Store    *store.Store
	Metrics  *observe.Metrics

	// Camera overrides the configured capture device. Optional.
	Camera capture.Camera

	// Detector overrides the MediaPipe detector. Optional.
	Detector detector.Detector

	// Loader overrides the file based model loader. Optional.
	Loader classifier.Loader

	// Clock drives detection timestamps. Default: time.Now.
	Clock func() time.Time
}

// App is the assembled application.
type App struct {
	settings   *config.Config
	metrics    *observe.Metrics
	camera     *capture.Exclusive
	detector   detector.Detector
	classifier *classifier.Adapter
	loader     classifier.Loader
	progress   *progress.Store
	practice   *practice.Controller
	panel      *training.Panel
	gate       *training.Gate
	frames     *capture.FrameBuffer
	clock      *detector.Timestamper

	closeOnce sync.Once
}

// New creates a new App from cfg. The model is not loaded until Start.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("app: store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := cfg.Settings

	cam := cfg.Camera
	if cam == nil {
		cam = capture.NewCamera(capture.Config{
			DeviceID: s.Camera.DeviceID,
			FPS:      s.Camera.FPS,
			Width:    capture.DefaultWidth,
			Height:   capture.DefaultHeight,
		})
	}

	det := cfg.Detector
	if det == nil {
		det = newDetector(s.Detector)
	}

	loader := cfg.Loader
	if loader == nil {
		loader = classifier.FileLoader(s.Classifier.ModelPath, s.Classifier.LabelsPath)
	}

	a := &App{
		settings:   s,
		metrics:    cfg.Metrics,
		camera:     capture.NewExclusive(cam),
		detector:   det,
		classifier: classifier.NewAdapter(),
		loader:     loader,
		progress:   progress.New(progress.Config{KV: cfg.Store}),
		frames:     capture.NewFrameBuffer(),
		clock:      detector.NewTimestamper(cfg.Clock),
	}

	a.practice = practice.New(practice.Config{
		Camera:     a.camera,
		Detector:   a.detector,
		Classifier: a.classifier,
		Progress:   a.progress,
		Frames:     a.frames,
		Metrics:    a.metrics,

		Timestamper: a.clock,
	})

	var submitter *training.Submitter
	if s.Training.Endpoint != "" {
		submitter = training.NewSubmitter(training.SubmitterConfig{
			Endpoint: s.Training.Endpoint,
			Timeout:  s.Training.SubmitTimeout.Std(),
			Metrics:  a.metrics,
		})
	}
	a.panel = training.NewPanel(training.Config{
		Camera:    a.camera,
		Detector:  a.detector,
		Frames:    a.frames,
		Submitter: submitter,
		Burst:     training.DefaultBurstConfig(),
		Metrics:   a.metrics,

		Timestamper: a.clock,
	})
	if s.Training.Username != "" {
		a.gate = training.NewGate(s.Training.Username, s.Training.Password)
	}

	return a, nil
}

// newDetector tries MediaPipe first and falls back to the mock detector.
func newDetector(cfg config.DetectorConfig) detector.Detector {
	dc := detector.DefaultConfig()
	dc.MaxHands = cfg.MaxHands
	dc.MinConfidence = cfg.MinConfidence

	mp, err := detector.NewMediaPipeDetector(dc)
	if err != nil {
		slog.Warn("mediapipe not available, hand detection disabled", "err", err)
		return detector.NewMockDetector()
	}
	slog.Info("using mediapipe hand detection")
	return mp
}

// Start begins loading the model in the background.
func (a *App) Start() {
	slog.Info("loading classifier", "model", a.settings.Classifier.ModelPath, "labels", a.settings.Classifier.LabelsPath)
	a.classifier.LoadAsync(a.loader)
	go func() {
		<-a.classifier.Done()
		if err := a.classifier.Err(); err != nil {
			slog.Error("classifier load failed", "err", err)
			return
		}
		slog.Info("classifier ready", "labels", a.classifier.Labels())
	}()
}

// WaitReady blocks until the model finished loading or ctx ends.
func (a *App) WaitReady(ctx context.Context) error {
	select {
	case <-a.classifier.Done():
		return a.classifier.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServerConfig returns the HTTP server configuration for this app.
func (a *App) ServerConfig() server.Config {
	return server.Config{
		StaticDir:     config.FindStaticDir(a.settings.Server.StaticDir),
		Classifier:    a.classifier,
		Practice:      a.practice,
		Progress:      a.progress,
		Panel:         a.panel,
		Gate:          a.gate,
		Frames:        a.frames,
		SubmitTimeout: a.settings.Training.SubmitTimeout.Std(),
		Metrics:       a.metrics,
	}
}

// Shutdown finalizes a running practice session, stops the training panel
// and releases the detector. It is safe to call more than once.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		a.practice.Shutdown()
		a.panel.Shutdown()
		if err := a.detector.Close(); err != nil {
			slog.Warn("close detector", "err", err)
		}
		slog.Info("application stopped")
	})
}

// Practice returns the practice controller.
func (a *App) Practice() *practice.Controller {
	return a.practice
}

// Panel returns the training panel.
func (a *App) Panel() *training.Panel {
	return a.panel
}

// Classifier returns the classifier adapter.
func (a *App) Classifier() *classifier.Adapter {
	return a.classifier
}

// Progress returns the progress store.
func (a *App) Progress() *progress.Store {
	return a.progress
}
