package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// readyPoll is how often WaitReady retries a camera that is warming up.
const readyPoll = 20 * time.Millisecond

// WaitReady polls camera until it yields a usable frame, the timeout passes
// or ctx is cancelled. Errors other than ErrFrameNotReady end the wait.
func WaitReady(ctx context.Context, camera Camera, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()

	for {
		frame, err := camera.ReadFrame()
		if err == nil {
			frame.Close()
			return nil
		}
		if !errors.Is(err, ErrFrameNotReady) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for first frame: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
