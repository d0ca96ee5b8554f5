package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExclusive_AcquireRelease(t *testing.T) {
	cam := NewBlankCamera()
	ex := NewExclusive(cam)

	lease, err := ex.Acquire("practice", nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !cam.IsOpen() {
		t.Error("expected camera to be open after acquire")
	}
	if ex.Owner() != "practice" {
		t.Errorf("expected owner practice, got %q", ex.Owner())
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("expected camera to be closed after release")
	}
	if ex.Owner() != "" {
		t.Errorf("expected no owner, got %q", ex.Owner())
	}

	// Second release is a no-op
	lease.Release()
	if _, closes := cam.Counts(); closes != 1 {
		t.Errorf("expected 1 close, got %d", closes)
	}
}

func TestExclusive_Revoke(t *testing.T) {
	cam := NewBlankCamera()
	ex := NewExclusive(cam)

	var first *Lease
	revoked := false
	first, err := ex.Acquire("practice", func() {
		revoked = true
		// The revoked owner releases on its own stop path
		first.Release()
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	second, err := ex.Acquire("training", nil)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if !revoked {
		t.Error("expected first owner to be revoked")
	}
	if first.Valid() {
		t.Error("expected first lease to be invalid")
	}
	if !second.Valid() {
		t.Error("expected second lease to be valid")
	}
	if !cam.IsOpen() {
		t.Error("camera should stay open for the new owner")
	}

	second.Release()
	if cam.IsOpen() {
		t.Error("expected camera closed after final release")
	}
}

func TestExclusive_OpenFailure(t *testing.T) {
	cam := NewBlankCamera()
	cam.SetOpenError(errors.New("permission denied"))
	ex := NewExclusive(cam)

	if _, err := ex.Acquire("practice", nil); err == nil {
		t.Fatal("expected acquire to fail")
	}
	if ex.Owner() != "" {
		t.Errorf("expected no owner after failed acquire, got %q", ex.Owner())
	}
}

func TestWaitReady(t *testing.T) {
	cam := NewBlankCamera()
	cam.SetWarmup(3)
	cam.Open()
	defer cam.Close()

	if err := WaitReady(context.Background(), cam, time.Second); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	cam.SetWarmup(1 << 20)
	cam.Close()
	cam.Open()
	if err := WaitReady(context.Background(), cam, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	cam.SetReadError(errors.New("unplugged"))
	if err := WaitReady(context.Background(), cam, time.Second); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected read error to end the wait, got %v", err)
	}
}
