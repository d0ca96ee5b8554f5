// Package capture provides camera capture, exclusive camera ownership and
// frame annotation using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Capture defaults.
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned by ReadFrame before Open or after Close.
	ErrCameraNotOpen = errors.New("capture: camera is not open")

	// ErrDeviceUnavailable is returned when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("capture: camera device unavailable")

	// ErrReadFailed is returned when the device stops delivering frames.
	ErrReadFailed = errors.New("capture: frame read failed")

	// ErrFrameNotReady means the device produced no usable frame yet.
	// Loops treat it as a skipped tick, not a fault.
	ErrFrameNotReady = errors.New("capture: frame not ready")
)

// Camera is a source of video frames.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller closes the Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Config holds the capture device settings. Zero fields take defaults.
type Config struct {
	DeviceID int
	FPS      int
	Width    int
	Height   int
}

// DefaultConfig returns a Config for device 0 at the default resolution.
func DefaultConfig() Config {
	return Config{FPS: DefaultFPS, Width: DefaultWidth, Height: DefaultHeight}
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	return c
}

// OpenCVCamera reads frames from a local device through OpenCV.
type OpenCVCamera struct {
	mu  sync.Mutex
	cfg Config
	dev *gocv.VideoCapture
}

// NewCamera returns an OpenCVCamera for cfg. The device is opened by Open.
func NewCamera(cfg Config) Camera {
	return &OpenCVCamera{cfg: cfg.withDefaults()}
}

// Open opens the device and applies the configured size and rate. Opening
// an open camera is a no-op.
func (c *OpenCVCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev != nil {
		return nil
	}

	dev, err := gocv.OpenVideoCapture(c.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrDeviceUnavailable, c.cfg.DeviceID, err)
	}
	if !dev.IsOpened() {
		dev.Close()
		return fmt.Errorf("%w: device %d", ErrDeviceUnavailable, c.cfg.DeviceID)
	}

	dev.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	dev.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))
	c.dev = dev
	return nil
}

// Close releases the device. Closing a closed camera returns nil.
func (c *OpenCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	return err
}

// ReadFrame grabs one frame. An empty frame yields ErrFrameNotReady.
func (c *OpenCVCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return nil, ErrCameraNotOpen
	}

	frame := gocv.NewMat()
	if !c.dev.Read(&frame) {
		frame.Close()
		return nil, fmt.Errorf("%w: device %d", ErrReadFailed, c.cfg.DeviceID)
	}
	if frame.Empty() || frame.Cols() == 0 || frame.Rows() == 0 {
		frame.Close()
		return nil, ErrFrameNotReady
	}
	return &frame, nil
}

// SetFPS changes the capture rate. Non-positive values are ignored.
func (c *OpenCVCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.FPS = fps
	if c.dev != nil {
		c.dev.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the configured capture rate.
func (c *OpenCVCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.FPS
}

// IsOpen reports whether the device is open.
func (c *OpenCVCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev != nil
}
