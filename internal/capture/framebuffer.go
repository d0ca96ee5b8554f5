package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// FrameBuffer holds the most recent annotated frame as JPEG bytes for
// streaming. Waiters are woken on every publish.
type FrameBuffer struct {
	mu     sync.Mutex
	jpeg   []byte
	seq    uint64
	notify chan struct{}
}

// NewFrameBuffer creates an empty FrameBuffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{notify: make(chan struct{})}
}

// Publish encodes frame as JPEG and makes it the latest frame.
func (b *FrameBuffer) Publish(frame *gocv.Mat) error {
	if frame == nil || frame.Empty() {
		return nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	b.PublishJPEG(append([]byte(nil), buf.GetBytes()...))
	return nil
}

// PublishJPEG stores already encoded JPEG bytes as the latest frame.
func (b *FrameBuffer) PublishJPEG(data []byte) {
	b.mu.Lock()
	b.jpeg = data
	b.seq++
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// Latest returns the latest JPEG, its sequence number, and a channel that is
// closed on the next publish.
func (b *FrameBuffer) Latest() ([]byte, uint64, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jpeg, b.seq, b.notify
}

// Clear drops the latest frame, e.g. when the camera is turned off.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jpeg = nil
}
