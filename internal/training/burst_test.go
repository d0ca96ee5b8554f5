package training

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/kai/internal/detector"
)

// burstRig records what a Burster does through its hooks.
type burstRig struct {
	mu       sync.Mutex
	handFn   func(call int) *detector.HandLandmarks
	calls    int
	label    string
	onAdd    func(n int)
	samples  []Sample
	messages []string
	ttls     []time.Duration
}

func (r *burstRig) hand() *detector.HandLandmarks {
	r.mu.Lock()
	r.calls++
	call, fn := r.calls, r.handFn
	r.mu.Unlock()
	return fn(call)
}

func (r *burstRig) currentLabel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.label
}

func (r *burstRig) setLabel(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.label = label
}

func (r *burstRig) add(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	n, fn := len(r.samples), r.onAdd
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (r *burstRig) say(msg string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.ttls = append(r.ttls, ttl)
}

func (r *burstRig) lastMessage() (string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return "", 0
	}
	return r.messages[len(r.messages)-1], r.ttls[len(r.ttls)-1]
}

func (r *burstRig) burster(cfg BurstConfig) *Burster {
	return newBurster(cfg, burstHooks{
		hand:    r.hand,
		label:   r.currentLabel,
		add:     r.add,
		say:     r.say,
		changed: func() {},
	})
}

func alwaysHand(int) *detector.HandLandmarks {
	h := detector.FistLandmarks()
	return &h
}

func fastBurst() BurstConfig {
	return BurstConfig{Samples: 30, Interval: time.Millisecond, Countdown: 3, Step: time.Millisecond}
}

func TestBurster_CapturesThirtySamples(t *testing.T) {
	rig := &burstRig{handFn: alwaysHand, label: "A"}
	b := rig.burster(fastBurst())

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Wait()

	if len(rig.samples) != 30 {
		t.Fatalf("expected 30 samples, got %d", len(rig.samples))
	}
	for i, s := range rig.samples {
		if s.Label != "A" {
			t.Errorf("sample %d: expected label A, got %s", i, s.Label)
		}
		if len(s.Landmarks) != detector.NumLandmarks {
			t.Errorf("sample %d: expected %d landmarks, got %d", i, detector.NumLandmarks, len(s.Landmarks))
		}
		if s.Landmarks[detector.Wrist].X != 0 || s.Landmarks[detector.Wrist].Y != 0 {
			t.Errorf("sample %d: expected normalized wrist, got %+v", i, s.Landmarks[detector.Wrist])
		}
	}

	msg, ttl := rig.lastMessage()
	if msg != "Done! 30 samples of A captured." {
		t.Errorf("unexpected done message %q", msg)
	}
	if ttl != burstDoneMessageTTL {
		t.Errorf("expected done message to clear after %v, got %v", burstDoneMessageTTL, ttl)
	}

	st := b.Status()
	if st.Phase != BurstIdle || st.Ticks != 30 || st.Captured != 30 {
		t.Errorf("unexpected final status %+v", st)
	}
}

func TestBurster_CountdownMessages(t *testing.T) {
	rig := &burstRig{handFn: alwaysHand, label: "O"}
	b := rig.burster(fastBurst())

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Wait()

	want := []string{"Get ready in 3...", "Get ready in 2...", "Get ready in 1...", "Capturing 30 samples! Hold the pose..."}
	if len(rig.messages) < len(want) {
		t.Fatalf("expected at least %d messages, got %v", len(want), rig.messages)
	}
	for i, m := range want {
		if rig.messages[i] != m {
			t.Errorf("message %d: expected %q, got %q", i, m, rig.messages[i])
		}
	}
}

func TestBurster_ReadsCurrentLabelPerTick(t *testing.T) {
	rig := &burstRig{handFn: alwaysHand, label: "A"}
	rig.onAdd = func(n int) {
		if n == 10 {
			rig.setLabel("E")
		}
	}
	b := rig.burster(fastBurst())

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Wait()

	counts := map[string]int{}
	for _, s := range rig.samples {
		counts[s.Label]++
	}
	if counts["A"] != 10 || counts["E"] != 20 {
		t.Errorf("expected 10 A and 20 E samples, got %v", counts)
	}
	if msg, _ := rig.lastMessage(); msg != "Done! 30 samples of E captured." {
		t.Errorf("unexpected done message %q", msg)
	}
}

func TestBurster_MissingHandTicksStillCount(t *testing.T) {
	// Call 1 is the start guard; calls 2..31 are the capture ticks
	rig := &burstRig{label: "U", handFn: func(call int) *detector.HandLandmarks {
		if call >= 7 && call <= 11 {
			return nil
		}
		return alwaysHand(call)
	}}
	b := rig.burster(fastBurst())

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Wait()

	if len(rig.samples) != 25 {
		t.Errorf("expected 25 samples, got %d", len(rig.samples))
	}
	st := b.Status()
	if st.Ticks != 30 || st.Captured != 25 {
		t.Errorf("expected 30 ticks and 25 captured, got %+v", st)
	}
	if msg, _ := rig.lastMessage(); msg != "Done! 25 samples of U captured." {
		t.Errorf("unexpected done message %q", msg)
	}
}

func TestBurster_RequiresHand(t *testing.T) {
	rig := &burstRig{label: "A", handFn: func(int) *detector.HandLandmarks { return nil }}
	b := rig.burster(fastBurst())

	if err := b.Start(); !errors.Is(err, ErrHandNotDetected) {
		t.Fatalf("expected ErrHandNotDetected, got %v", err)
	}
	if b.Status().Phase != BurstIdle {
		t.Error("expected burst to stay idle")
	}
	msg, ttl := rig.lastMessage()
	if msg != HandMissingMessage || ttl != handMissingMessageTTL {
		t.Errorf("unexpected hint %q (ttl %v)", msg, ttl)
	}
	if len(rig.samples) != 0 {
		t.Errorf("expected no samples, got %d", len(rig.samples))
	}
}

func TestBurster_RejectsSecondBurst(t *testing.T) {
	rig := &burstRig{handFn: alwaysHand, label: "I"}
	b := rig.burster(BurstConfig{Samples: 30, Interval: time.Millisecond, Countdown: 1, Step: time.Hour})

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := b.Start(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if b.Status().Phase != BurstCountdown {
		t.Errorf("expected countdown phase, got %s", b.Status().Phase)
	}

	b.Cancel()

	if b.Status().Phase != BurstIdle {
		t.Errorf("expected idle after cancel, got %s", b.Status().Phase)
	}
	if len(rig.samples) != 0 {
		t.Errorf("expected no samples from a cancelled countdown, got %d", len(rig.samples))
	}

	// A new burst may start after cancellation
	b2 := rig.burster(fastBurst())
	if err := b2.Start(); err != nil {
		t.Fatalf("Start after cancel failed: %v", err)
	}
	b2.Wait()
	if len(rig.samples) != 30 {
		t.Errorf("expected 30 samples, got %d", len(rig.samples))
	}
}

func TestBurstTransitions(t *testing.T) {
	tests := []struct {
		from, to BurstPhase
		want     bool
	}{
		{BurstIdle, BurstCountdown, true},
		{BurstIdle, BurstCapturing, false},
		{BurstCountdown, BurstCapturing, true},
		{BurstCountdown, BurstIdle, true},
		{BurstCapturing, BurstIdle, true},
		{BurstCapturing, BurstCountdown, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := canEnter(tt.from, tt.to); got != tt.want {
				t.Errorf("canEnter(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestBurstConfig_Defaults(t *testing.T) {
	cfg := BurstConfig{}.withDefaults()
	if cfg != DefaultBurstConfig() {
		t.Errorf("expected defaults %+v, got %+v", DefaultBurstConfig(), cfg)
	}
	if cfg.Samples != 30 || cfg.Interval != 100*time.Millisecond || cfg.Countdown != 3 || cfg.Step != time.Second {
		t.Errorf("unexpected default burst timing %+v", cfg)
	}
}
