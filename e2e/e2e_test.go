package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/kai/internal/app"
	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/config"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/server"
	"github.com/ayusman/kai/internal/store"
	"github.com/ayusman/kai/internal/training"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// writeModel writes a model that ignores its input and always favors the
// first label at over 96% confidence.
func writeModel(t *testing.T, dir string, labels []string) (modelPath, labelsPath string) {
	t.Helper()

	weights := make([][]float64, detector.FeatureWidth)
	for i := range weights {
		weights[i] = make([]float64, len(labels))
	}
	bias := make([]float64, len(labels))
	bias[0] = 5

	spec := classifier.ModelSpec{
		InputWidth: detector.FeatureWidth,
		Layers: []classifier.LayerSpec{
			{Weights: weights, Bias: bias, Activation: classifier.ActivationSoftmax},
		},
	}

	modelPath = filepath.Join(dir, "model.json")
	labelsPath = filepath.Join(dir, "labels.json")
	writeJSON(t, modelPath, spec)
	writeJSON(t, labelsPath, labels)
	return modelPath, labelsPath
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	modelPath, labelsPath := writeModel(t, tmpDir, []string{"A", "E", "I", "O", "U", classifier.NoGestureLabel})

	received := make(chan []training.Sample, 1)
	trainer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var samples []training.Sample
		if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received <- samples
	}))
	defer trainer.Close()

	yml := fmt.Sprintf(`
server:
  listen_addr: "127.0.0.1:0"
  log_level: debug
storage:
  path: %q
classifier:
  model_path: %q
  labels_path: %q
training:
  endpoint: %q
  username: coach
  password: secret
  submit_timeout: 5s
`, filepath.Join(tmpDir, "kai.db"), modelPath, labelsPath, trainer.URL)

	cfg, err := config.LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}

	s, err := store.New(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	defer mp.Shutdown(context.Background())
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})

	application, err := app.New(app.Config{
		Settings: cfg,
		Store:    s,
		Metrics:  metrics,
		Camera:   capture.NewBlankCamera(),
		Detector: det,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer application.Shutdown()

	application.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	ts := httptest.NewServer(server.New(application.ServerConfig()))
	defer ts.Close()

	jar, _ := cookiejar.New(nil)
	client := ts.Client()
	client.Jar = jar

	call := func(t *testing.T, method, path, body string) (int, map[string]any) {
		t.Helper()
		req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s error = %v", method, path, err)
		}
		defer resp.Body.Close()
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	t.Run("Health", func(t *testing.T) {
		status, body := call(t, http.MethodGet, "/api/health", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want %d", status, http.StatusOK)
		}
		if body["model"] != "ready" {
			t.Errorf("model = %v, want ready", body["model"])
		}
	})

	t.Run("PracticeSession", func(t *testing.T) {
		if status, body := call(t, http.MethodPost, "/api/practice/A/camera", ""); status != http.StatusOK {
			t.Fatalf("start camera: status = %d, body %v", status, body)
		}
		if status, _ := call(t, http.MethodPost, "/api/practice/scan", ""); status != http.StatusOK {
			t.Fatalf("start scan: status = %d", status)
		}

		ctrl := application.Practice()
		waitUntil(t, func() bool { return ctrl.Snapshot().BestScore >= 90 })
		if ctrl.Snapshot().State != practice.StateScanning {
			t.Errorf("state = %s, want scanning", ctrl.Snapshot().State)
		}

		status, body := call(t, http.MethodDelete, "/api/practice/scan", "")
		if status != http.StatusOK {
			t.Fatalf("stop scan: status = %d", status)
		}
		last, _ := body["lastSession"].(map[string]any)
		if best, _ := last["bestScore"].(float64); best < 90 {
			t.Errorf("lastSession = %v", last)
		}

		if status, _ := call(t, http.MethodDelete, "/api/practice/A/camera", ""); status != http.StatusOK {
			t.Errorf("stop camera: status = %d", status)
		}
	})

	t.Run("ProgressPersisted", func(t *testing.T) {
		status, body := call(t, http.MethodGet, "/api/progress", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if body["totalSessions"] != float64(1) {
			t.Errorf("totalSessions = %v, want 1", body["totalSessions"])
		}
	})

	t.Run("TrainingSubmission", func(t *testing.T) {
		if status, _ := call(t, http.MethodPost, "/api/training/login", `{"username":"coach","password":"secret"}`); status != http.StatusOK {
			t.Fatalf("login: status = %d", status)
		}
		if status, _ := call(t, http.MethodPost, "/api/training/camera", ""); status != http.StatusOK {
			t.Fatalf("start camera: status = %d", status)
		}

		panel := application.Panel()
		waitUntil(t, func() bool { return panel.Status().HandVisible })

		if status, _ := call(t, http.MethodPut, "/api/training/label", `{"label":"U"}`); status != http.StatusOK {
			t.Fatalf("set label: status = %d", status)
		}
		for i := 0; i < 3; i++ {
			if status, body := call(t, http.MethodPost, "/api/training/capture", ""); status != http.StatusOK || body["captured"] != true {
				t.Fatalf("capture %d: status = %d, body %v", i, status, body)
			}
		}

		status, body := call(t, http.MethodPost, "/api/training/submit", "")
		if id, _ := body["batchId"].(string); status != http.StatusOK || id == "" {
			t.Fatalf("submit: status = %d, body %v", status, body)
		}

		select {
		case samples := <-received:
			if len(samples) != 3 {
				t.Fatalf("trainer received %d samples, want 3", len(samples))
			}
			for _, sample := range samples {
				if sample.Label != "U" {
					t.Errorf("sample label = %q, want U", sample.Label)
				}
				if sample.Landmarks[detector.Wrist] != (detector.Point3D{}) {
					t.Errorf("wrist not at origin: %+v", sample.Landmarks[detector.Wrist])
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("trainer received nothing")
		}

		if status, _ := call(t, http.MethodDelete, "/api/training/camera", ""); status != http.StatusOK {
			t.Errorf("stop camera: status = %d", status)
		}
	})

	t.Run("ResetProgress", func(t *testing.T) {
		status, body := call(t, http.MethodDelete, "/api/progress", "")
		if status != http.StatusOK || body["totalSessions"] != float64(0) {
			t.Errorf("reset: status = %d, body %v", status, body)
		}
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
