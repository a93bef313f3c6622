package assessment

import (
	"sync/atomic"
	"time"
)

// Cancel stops a scheduled callback. Calling it more than once is harmless.
type Cancel func()

// Clock schedules callbacks that are delivered on the session loop.
type Clock interface {
	Every(interval time.Duration, fn func()) Cancel
	AfterFunc(delay time.Duration, fn func()) Cancel
}

type loopClock struct {
	loop Loop
}

// NewLoopClock returns a wall-clock Clock whose callbacks run on loop.
func NewLoopClock(loop Loop) Clock {
	return &loopClock{loop: loop}
}

// Every fires fn once per interval. A tick already queued on the loop when
// the returned Cancel runs is dropped.
func (c *loopClock) Every(interval time.Duration, fn func()) Cancel {
	var cancelled atomic.Bool
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.loop.Post(func() {
					if !cancelled.Load() {
						fn()
					}
				})
			}
		}
	}()

	return func() {
		if cancelled.CompareAndSwap(false, true) {
			close(stop)
		}
	}
}

func (c *loopClock) AfterFunc(delay time.Duration, fn func()) Cancel {
	var cancelled atomic.Bool
	t := time.AfterFunc(delay, func() {
		c.loop.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}
