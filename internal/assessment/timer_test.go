package assessment

import (
	"testing"
	"time"
)

func TestCountdownTicksAndExpiresOnce(t *testing.T) {
	clock := &fakeClock{}
	var ticks []int
	expired := 0
	c := NewCountdown(clock, time.Second, func() bool { return false },
		func(r int) { ticks = append(ticks, r) },
		func() { expired++ })
	c.Seed(3)

	if !c.Start() {
		t.Fatal("Start() = false, want true")
	}
	if c.Start() {
		t.Error("second Start() = true, want false")
	}

	clock.Advance(10 * time.Second)

	want := []int{2, 1, 0}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
	if expired != 1 {
		t.Errorf("expired %d times, want 1", expired)
	}
	if c.Running() {
		t.Error("countdown still running after expiry")
	}
	if clock.active() != 0 {
		t.Errorf("active timers = %d, want 0", clock.active())
	}
}

func TestCountdownBlocked(t *testing.T) {
	clock := &fakeClock{}
	c := NewCountdown(clock, time.Second, func() bool { return true }, func(int) {}, func() {})
	c.Seed(60)

	if c.Start() {
		t.Error("Start() = true for a blocked countdown")
	}
	clock.Advance(5 * time.Second)
	if c.Remaining() != 60 {
		t.Errorf("Remaining() = %d, want 60", c.Remaining())
	}
}

func TestCountdownStopIsIdempotent(t *testing.T) {
	clock := &fakeClock{}
	c := NewCountdown(clock, time.Second, func() bool { return false }, func(int) {}, func() {})
	c.Seed(10)
	c.Start()
	clock.Advance(2 * time.Second)

	c.Stop()
	c.Stop()
	clock.Advance(5 * time.Second)

	if c.Remaining() != 8 {
		t.Errorf("Remaining() = %d, want 8", c.Remaining())
	}
	if !c.Start() {
		t.Error("Start() after Stop() = false, want true")
	}
}

func TestCountdownSeedClampsNegative(t *testing.T) {
	c := NewCountdown(&fakeClock{}, time.Second, func() bool { return false }, func(int) {}, func() {})
	c.Seed(-4)
	if c.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", c.Remaining())
	}
}
