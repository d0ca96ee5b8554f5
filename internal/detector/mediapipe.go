package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrServiceNotFound is returned when the MediaPipe helper script cannot be located.
var ErrServiceNotFound = errors.New("detector: mediapipe_service.py not found")

const (
	serviceScript = "mediapipe_service.py"

	// idleShutdown stops the helper after this long without a frame.
	idleShutdown = 30 * time.Second

	// requestHeaderLen is the 8-byte timestamp plus the 4-byte JPEG length.
	requestHeaderLen = 12
)

// MediaPipeDetector runs hand detection in a Python MediaPipe helper.
//
// A request is a requestHeaderLen header (big-endian timestamp in
// milliseconds, big-endian JPEG length) followed by the JPEG bytes. A
// response is one JSON line: {"hands":[{"points":[...],"handedness":..,"score":..}]}.
// The helper starts on the first frame and stops after idleShutdown.
type MediaPipeDetector struct {
	config Config
	script string
	python string

	mu    sync.Mutex
	proc  *exec.Cmd
	in    io.WriteCloser
	out   *bufio.Reader
	idle  *time.Timer
	lastT int64
}

// NewMediaPipeDetector locates the helper script and a Python interpreter.
// No process is started yet.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	script := locate(searchDirs("scripts"), serviceScript)
	if script == "" {
		return nil, ErrServiceNotFound
	}
	python := locate(searchDirs("venv/bin"), "python")
	if python == "" {
		python = "python3"
	}
	return &MediaPipeDetector{config: config, script: script, python: python}, nil
}

// Detect sends frame to the helper and returns the hands it found.
// Timestamps must increase; a repeated or older one is rejected.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]HandLandmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, nil
	}
	if timestampMs <= d.lastT {
		return nil, fmt.Errorf("detector: timestamp %d not after %d", timestampMs, d.lastT)
	}
	if err := d.start(); err != nil {
		return nil, err
	}

	jpeg, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer jpeg.Close()

	if err := writeRequest(d.in, timestampMs, jpeg.GetBytes()); err != nil {
		return nil, err
	}
	d.lastT = timestampMs

	line, err := d.out.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	hands, err := parseResponse(line)
	if err != nil {
		return nil, err
	}

	if d.idle != nil {
		d.idle.Stop()
	}
	d.idle = time.AfterFunc(idleShutdown, d.stopIdle)
	return hands, nil
}

// Close stops the helper process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop()
}

func (d *MediaPipeDetector) start() error {
	if d.proc != nil {
		return nil
	}

	proc := exec.Command(d.python, d.script,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	)
	proc.Stderr = os.Stderr

	in, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("helper stdin: %w", err)
	}
	out, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("helper stdout: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start mediapipe helper: %w", err)
	}

	d.proc, d.in, d.out = proc, in, bufio.NewReader(out)
	slog.Info("mediapipe helper started", "script", d.script, "python", d.python, "pid", proc.Process.Pid)
	return nil
}

func (d *MediaPipeDetector) stopIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stop(); err != nil {
		slog.Debug("mediapipe idle stop", "err", err)
	}
}

// stop ends the helper. The timestamp floor survives so a restarted helper
// still sees increasing values.
func (d *MediaPipeDetector) stop() error {
	if d.proc == nil {
		return nil
	}
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	d.in.Close()
	err := d.proc.Wait()
	d.proc, d.in, d.out = nil, nil, nil
	return err
}

// writeRequest frames one JPEG for the helper.
func writeRequest(w io.Writer, timestampMs int64, jpeg []byte) error {
	var header [requestHeaderLen]byte
	binary.BigEndian.PutUint64(header[:8], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[8:], uint32(len(jpeg)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// searchDirs lists where helper files are looked up: the working directory
// and its parents, next to the executable, then ~/.kai.
func searchDirs(sub string) []string {
	dirs := []string{sub, filepath.Join("..", sub), filepath.Join("..", "..", sub)}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), sub))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".kai", sub))
	}
	return dirs
}

// locate returns the absolute path of the first dirs/name that exists.
func locate(dirs []string, name string) string {
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}

// parseResponse decodes one helper response line. Hands that do not carry
// exactly NumLandmarks points are dropped as malformed.
func parseResponse(line []byte) ([]HandLandmarks, error) {
	var resp struct {
		Hands []struct {
			Points     []Point3D `json:"points"`
			Handedness string    `json:"handedness"`
			Score      float64   `json:"score"`
		} `json:"hands"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	hands := make([]HandLandmarks, 0, len(resp.Hands))
	for _, h := range resp.Hands {
		lm, ok := FromPoints(h.Points)
		if !ok {
			slog.Debug("dropping malformed hand", "points", len(h.Points))
			continue
		}
		lm.Handedness = h.Handedness
		lm.Score = h.Score
		hands = append(hands, lm)
	}
	return hands, nil
}
