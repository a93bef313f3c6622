package assessment

import (
	"time"
)

// Countdown is the single authoritative source of remaining time.
type Countdown struct {
	clock     Clock
	interval  time.Duration
	remaining int
	handle    Cancel

	// blocked reports whether the subject already completed this
	// assessment elsewhere; the countdown never runs in that case.
	blocked  func() bool
	onTick   func(remaining int)
	onExpire func()
}

// NewCountdown creates a stopped countdown ticking once per interval.
func NewCountdown(clock Clock, interval time.Duration, blocked func() bool, onTick func(int), onExpire func()) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{
		clock:    clock,
		interval: interval,
		blocked:  blocked,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Seed sets the remaining seconds. Negative values clamp to zero.
func (c *Countdown) Seed(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int { return c.remaining }

// Running reports whether a tick handle is held.
func (c *Countdown) Running() bool { return c.handle != nil }

// Start begins ticking. It is a no-op when already running or blocked.
func (c *Countdown) Start() bool {
	if c.handle != nil || c.blocked() {
		return false
	}
	c.handle = c.clock.Every(c.interval, c.tick)
	return true
}

// Stop halts ticking. It is idempotent.
func (c *Countdown) Stop() {
	if c.handle == nil {
		return
	}
	c.handle()
	c.handle = nil
}

func (c *Countdown) tick() {
	if c.handle == nil {
		return
	}
	if c.remaining-1 <= 0 {
		c.remaining = 0
		c.Stop()
		c.onTick(0)
		c.onExpire()
		return
	}
	c.remaining--
	c.onTick(c.remaining)
}
