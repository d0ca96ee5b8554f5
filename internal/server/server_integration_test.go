package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/detector"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/progress"
	"github.com/ayusman/kai/internal/store"
	"github.com/ayusman/kai/internal/training"
	"github.com/gorilla/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type fixedScorer struct{ scores []float64 }

func (s fixedScorer) Predict([]float64) ([]float64, error) { return s.scores, nil }
func (s fixedScorer) InputWidth() int                      { return detector.FeatureWidth }

type stack struct {
	ts       *httptest.Server
	client   *http.Client
	ctrl     *practice.Controller
	panel    *training.Panel
	progress *progress.Store
	trainer  *httptest.Server
	received chan []training.Sample
}

func newStack(t *testing.T) *stack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping camera-backed server test in short mode")
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	st, err := store.New(filepath.Join(t.TempDir(), "kai.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	prog := progress.New(progress.Config{KV: st})

	adapter := classifier.NewAdapter()
	// A at 90% confidence
	err = adapter.Load(func() (classifier.Scorer, []string, error) {
		return fixedScorer{scores: []float64{0.9, 0.05, 0.05}}, []string{"A", "E", classifier.NoGestureLabel}, nil
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})
	cam := capture.NewExclusive(capture.NewBlankCamera())
	frames := capture.NewFrameBuffer()

	ctrl := practice.New(practice.Config{
		Camera:     cam,
		Detector:   det,
		Classifier: adapter,
		Progress:   prog,
		Frames:     frames,
		Interval:   2 * time.Millisecond,
		Metrics:    metrics,
	})
	t.Cleanup(ctrl.Shutdown)

	received := make(chan []training.Sample, 1)
	trainer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var samples []training.Sample
		json.NewDecoder(r.Body).Decode(&samples)
		received <- samples
	}))
	t.Cleanup(trainer.Close)

	panel := training.NewPanel(training.Config{
		Camera:    cam,
		Detector:  det,
		Frames:    frames,
		Submitter: training.NewSubmitter(training.SubmitterConfig{Endpoint: trainer.URL, Metrics: metrics}),
		Interval:  2 * time.Millisecond,
		Burst:     training.BurstConfig{Samples: 30, Interval: time.Millisecond, Countdown: 1, Step: time.Millisecond},
		Metrics:   metrics,
	})
	t.Cleanup(panel.Shutdown)

	srv := New(Config{
		Classifier: adapter,
		Practice:   ctrl,
		Progress:   prog,
		Panel:      panel,
		Gate:       training.NewGate("admin", "senati"),
		Frames:     frames,
		Metrics:    metrics,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, _ := cookiejar.New(nil)
	client := ts.Client()
	client.Jar = jar

	return &stack{ts: ts, client: client, ctrl: ctrl, panel: panel, progress: prog, trainer: trainer, received: received}
}

func (s *stack) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAPI_PracticeWorkflow(t *testing.T) {
	s := newStack(t)

	resp, _ := s.do(t, http.MethodPost, "/api/practice/Z/camera", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown vowel: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/practice/scan", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("scan with camera off: status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp, body := s.do(t, http.MethodPost, "/api/practice/a/camera", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start camera: status = %d, body %v", resp.StatusCode, body)
	}
	if body["state"] != "camera_on" || body["target"] != "A" {
		t.Errorf("unexpected snapshot after camera on: %v", body)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/practice/scan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start scan: status = %d", resp.StatusCode)
	}
	waitUntil(t, func() bool { return s.ctrl.Snapshot().BestScore >= 90 })

	resp, body = s.do(t, http.MethodDelete, "/api/practice/scan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop scan: status = %d", resp.StatusCode)
	}
	last, ok := body["lastSession"].(map[string]any)
	if !ok || last["sessions"] != float64(1) {
		t.Errorf("expected last session with 1 session, got %v", body["lastSession"])
	}

	resp, body = s.do(t, http.MethodGet, "/api/progress", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress: status = %d", resp.StatusCode)
	}
	if body["totalSessions"] != float64(1) {
		t.Errorf("expected 1 total session, got %v", body["totalSessions"])
	}

	resp, _ = s.do(t, http.MethodDelete, "/api/practice/A/camera", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stop camera: status = %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodDelete, "/api/progress", "")
	if resp.StatusCode != http.StatusOK || body["totalSessions"] != float64(0) {
		t.Errorf("reset: status = %d, body %v", resp.StatusCode, body)
	}
}

func TestAPI_TrainingWorkflow(t *testing.T) {
	s := newStack(t)

	resp, _ := s.do(t, http.MethodGet, "/api/training", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("without session: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp, body := s.do(t, http.MethodPost, "/api/training/login", `{"username":"admin","password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized || body["message"] != training.LoginErrorMessage {
		t.Errorf("bad login: status = %d, body %v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/training/login", `{"username":"admin","password":"senati"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status = %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/training/burst", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("burst with camera off: status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/training/camera", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start camera: status = %d", resp.StatusCode)
	}
	waitUntil(t, func() bool { return s.panel.Status().HandVisible })

	resp, _ = s.do(t, http.MethodPut, "/api/training/label", `{"label":"Z"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown label: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp, _ = s.do(t, http.MethodPut, "/api/training/label", `{"label":"O"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set label: status = %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodPost, "/api/training/capture", "")
	if resp.StatusCode != http.StatusOK || body["captured"] != true {
		t.Fatalf("capture: status = %d, body %v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/training/burst", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("burst: status = %d", resp.StatusCode)
	}
	waitUntil(t, func() bool {
		st := s.panel.Status()
		return st.Burst.Phase == training.BurstIdle && st.Total == 31
	})

	resp, body = s.do(t, http.MethodPost, "/api/training/submit", "")
	if id, _ := body["batchId"].(string); resp.StatusCode != http.StatusOK || id == "" {
		t.Fatalf("submit: status = %d, body %v", resp.StatusCode, body)
	}
	select {
	case samples := <-s.received:
		if len(samples) != 31 || samples[0].Label != "O" {
			t.Errorf("trainer received %d samples", len(samples))
		}
	case <-time.After(time.Second):
		t.Fatal("trainer received nothing")
	}

	resp, body = s.do(t, http.MethodDelete, "/api/training/samples", "")
	if resp.StatusCode != http.StatusOK || body["total"] != float64(0) {
		t.Errorf("clear: status = %d, body %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/training/submit", "")
	if resp.StatusCode != http.StatusUnprocessableEntity || body["message"] != training.NoDataMessage {
		t.Errorf("empty submit: status = %d, body %v", resp.StatusCode, body)
	}
}

func TestAPI_CameraHandover(t *testing.T) {
	s := newStack(t)

	if resp, _ := s.do(t, http.MethodPost, "/api/practice/E/camera", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("start practice camera: status = %d", resp.StatusCode)
	}
	s.do(t, http.MethodPost, "/api/training/login", `{"username":"admin","password":"senati"}`)
	if resp, _ := s.do(t, http.MethodPost, "/api/training/camera", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("start training camera: status = %d", resp.StatusCode)
	}

	snap := s.ctrl.Snapshot()
	if snap.State != practice.StateCameraOff {
		t.Errorf("expected practice camera released, got %s", snap.State)
	}
	if !strings.Contains(snap.Message, "training") {
		t.Errorf("expected handover message, got %q", snap.Message)
	}
}

func TestLive_PushesPracticeState(t *testing.T) {
	s := newStack(t)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first liveMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial message: %v", err)
	}
	if first.Type != "practice" {
		t.Errorf("expected initial practice snapshot, got %q", first.Type)
	}

	if err := s.ctrl.StartCamera(context.Background(), "U"); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}

	for {
		var msg struct {
			Type string            `json:"type"`
			Data liveSnapshot `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if msg.Type == "practice" && msg.Data.Target == "U" {
			return
		}
	}
}

type liveSnapshot struct {
	State  string `json:"state"`
	Target string `json:"target"`
}

func TestStream_ServesFrames(t *testing.T) {
	frames := capture.NewFrameBuffer()
	srv := New(Config{Frames: frames})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	frames.PublishJPEG([]byte{0xFF, 0xD8, 0xFF, 0xD9})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("unexpected content type %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	var lines []string
	for i := 0; i < 3; i++ {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	if lines[0] != "--frame" || lines[1] != "Content-Type: image/jpeg" || lines[2] != "Content-Length: 4" {
		t.Errorf("unexpected stream part header %q", lines)
	}
}
