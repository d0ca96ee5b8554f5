package capture

import (
	"fmt"
	"log/slog"
	"sync"
)

// Exclusive hands a single Camera to one owner at a time. Acquiring while
// another owner holds the camera revokes that owner first.
type Exclusive struct {
	mu     sync.Mutex
	camera Camera
	gen    uint64
	owner  string
	revoke func()
}

// NewExclusive wraps camera for exclusive use.
func NewExclusive(camera Camera) *Exclusive {
	return &Exclusive{camera: camera}
}

// Lease is one owner's hold on the camera.
type Lease struct {
	e    *Exclusive
	gen  uint64
	once sync.Once
}

// Acquire opens the camera for owner. If another owner holds it, that owner's
// revoke callback runs first, outside any lock, and must return only once the
// owner has stopped using the camera. revoke may be nil.
func (e *Exclusive) Acquire(owner string, revoke func()) (*Lease, error) {
	e.mu.Lock()
	prev, prevOwner := e.revoke, e.owner
	e.gen++
	gen := e.gen
	e.owner = owner
	e.revoke = revoke
	e.mu.Unlock()

	if prevOwner != "" {
		slog.Info("camera revoked", "from", prevOwner, "to", owner)
		if prev != nil {
			prev()
		}
	}

	if err := e.camera.Open(); err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.owner = ""
			e.revoke = nil
		}
		e.mu.Unlock()
		return nil, fmt.Errorf("open camera: %w", err)
	}

	return &Lease{e: e, gen: gen}, nil
}

// Owner returns the current owner, or "" when the camera is free.
func (e *Exclusive) Owner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Camera returns the shared camera.
func (l *Lease) Camera() Camera {
	return l.e.camera
}

// Valid reports whether the lease still owns the camera.
func (l *Lease) Valid() bool {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()
	return l.e.gen == l.gen && l.e.owner != ""
}

// Release gives the camera back and closes it. Releasing a revoked lease, or
// releasing twice, is a no-op.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		l.e.mu.Lock()
		defer l.e.mu.Unlock()

		if l.e.gen != l.gen || l.e.owner == "" {
			return
		}
		l.e.owner = ""
		l.e.revoke = nil
		err = l.e.camera.Close()
	})
	return err
}
