package pipeline

import (
	"context"
	"sync"
)

// Handle controls a Loop running in its own goroutine.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// Start runs l in a new goroutine. When the loop ends because of a fault,
// onFault is called from that goroutine after Done is closed, so it may call
// Stop on the same handle. onFault may be nil.
func (l *Loop) Start(ctx context.Context, onFault func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		err := l.Run(ctx)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)

		if err != nil && onFault != nil {
			onFault(err)
		}
	}()
	return h
}

// Stop cancels the loop and waits for its goroutine to exit. No tick runs
// after Stop returns. It returns the fault that ended the loop, if any.
func (h *Handle) Stop() error {
	h.cancel()
	<-h.done
	return h.Err()
}

// Done is closed when the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the fault that ended the loop, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
