// Package assessment implements the proctored assessment session engine:
// the countdown, camera capture, lockdown escalation and the single-shot
// submission protocol, all driven from one logical thread per session.
package assessment

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Loop serializes every engine callback onto one logical thread. Engine
// state is only ever touched from functions the loop runs.
type Loop interface {
	// Post schedules fn to run on the loop.
	Post(fn func())
	// Await runs io off the loop and posts done back onto it once io returns.
	Await(io func(), done func())
}

// EventLoop is the production Loop: a goroutine draining a queue of closures.
type EventLoop struct {
	queue   chan func()
	stopped chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// NewEventLoop creates a loop with the given queue depth. Call Run to start it.
func NewEventLoop(depth int, log zerolog.Logger) *EventLoop {
	if depth <= 0 {
		depth = 64
	}
	return &EventLoop{
		queue:   make(chan func(), depth),
		stopped: make(chan struct{}),
		log:     log,
	}
}

// Run processes queued closures until ctx is cancelled or Stop is called.
func (l *EventLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.stopped:
			return
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Recovered panic in session loop")
		}
	}()
	fn()
}

// Post enqueues fn. Closures posted after Stop are dropped.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.stopped:
	case l.queue <- fn:
	}
}

// Await runs io on its own goroutine and posts done back onto the loop.
func (l *EventLoop) Await(io func(), done func()) {
	go func() {
		io()
		l.Post(done)
	}()
}

// Call runs fn on the loop and waits for it to finish. It returns false if
// the loop stopped before fn ran.
func (l *EventLoop) Call(fn func()) bool {
	finished := make(chan struct{})
	l.Post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
		return true
	case <-l.stopped:
		return false
	}
}

// Stop halts the loop. It is safe to call more than once.
func (l *EventLoop) Stop() {
	l.once.Do(func() { close(l.stopped) })
}

// Done is closed once the loop has stopped.
func (l *EventLoop) Done() <-chan struct{} {
	return l.stopped
}
