package assessment

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/model"
)

// InputKind classifies a blocked input attempt.
type InputKind string

const (
	InputContextMenu InputKind = "context_menu"
	InputSelection   InputKind = "selection"
	InputDrag        InputKind = "drag"
	InputKey         InputKind = "key"
)

// Listener receives platform events while a lockdown subscription is
// attached. Calls arrive on the session loop.
type Listener interface {
	FullscreenChanged(active bool)
	FullscreenRejected(reason string)
	VisibilityHidden()
	WindowBlurred()
	InputBlocked(kind InputKind, combo string)
}

// Platform is the subject's environment: it can be asked to enter
// fullscreen and it reports environment events to one listener at a time.
type Platform interface {
	RequestFullscreen()
	// Listen registers l and instructs the platform to suppress the context
	// menu, selection, drag and the given key combinations. The returned
	// function removes the listener and lifts every suppression.
	Listen(l Listener, deniedCombos []string) (unlisten func())
}

// LockdownHooks connect the monitor to the owning session.
type LockdownHooks struct {
	// Active reports whether the live assessment environment is up.
	Active   func() bool
	Notify   func(Notice)
	Record   func(kind model.ViolationKind, detail string)
	Escalate func()
}

// LockdownMonitor enforces fullscreen, observes focus and visibility loss,
// and escalates a warning counter into a forced submission.
type LockdownMonitor struct {
	platform   Platform
	clock      Clock
	retryDelay time.Duration
	threshold  int
	hooks      LockdownHooks
	log        zerolog.Logger

	sub        *subscription
	warnings   int
	fullscreen bool
	retry      Cancel
}

// NewLockdownMonitor creates a detached monitor.
func NewLockdownMonitor(platform Platform, clock Clock, retryDelay time.Duration, threshold int, hooks LockdownHooks, log zerolog.Logger) *LockdownMonitor {
	if threshold <= 0 {
		threshold = 3
	}
	return &LockdownMonitor{
		platform:   platform,
		clock:      clock,
		retryDelay: retryDelay,
		threshold:  threshold,
		hooks:      hooks,
		log:        log,
	}
}

// WarningCount returns the number of focus or visibility losses so far.
func (m *LockdownMonitor) WarningCount() int { return m.warnings }

// Threshold returns the warning count that forces submission.
func (m *LockdownMonitor) Threshold() int { return m.threshold }

// IsFullscreen mirrors the platform's fullscreen state.
func (m *LockdownMonitor) IsFullscreen() bool { return m.fullscreen }

// Attached reports whether the subscription is live.
func (m *LockdownMonitor) Attached() bool { return m.sub != nil }

// ThresholdReached reports whether the warning count has reached the threshold.
func (m *LockdownMonitor) ThresholdReached() bool { return m.warnings >= m.threshold }

// Attach registers the lockdown subscription and requests fullscreen.
func (m *LockdownMonitor) Attach() {
	if m.sub != nil {
		return
	}
	m.sub = &subscription{monitor: m}
	m.sub.unlisten = m.platform.Listen(m.sub, DenyList())
	m.platform.RequestFullscreen()
	m.log.Debug().Int("threshold", m.threshold).Msg("Lockdown attached")
}

// Detach removes every listener and cancels a pending fullscreen retry.
// Fullscreen itself is left as it is.
func (m *LockdownMonitor) Detach() {
	m.cancelRetry()
	if m.sub == nil {
		return
	}
	m.sub.detached = true
	m.sub.unlisten()
	m.sub = nil
	m.log.Debug().Int("warnings", m.warnings).Msg("Lockdown detached")
}

func (m *LockdownMonitor) cancelRetry() {
	if m.retry != nil {
		m.retry()
		m.retry = nil
	}
}

func (m *LockdownMonitor) scheduleRetry() {
	if m.retry != nil {
		return
	}
	m.retry = m.clock.AfterFunc(m.retryDelay, func() {
		m.retry = nil
		if m.sub == nil || m.fullscreen || !m.hooks.Active() {
			return
		}
		m.platform.RequestFullscreen()
	})
}

func (m *LockdownMonitor) onFullscreenChanged(active bool) {
	m.fullscreen = active
	if active {
		m.cancelRetry()
		return
	}
	if !m.hooks.Active() {
		return
	}
	m.hooks.Record(model.ViolationFullscreenExit, "")
	n := newNotice(NoticeFullscreenExited)
	n.Transient = true
	m.hooks.Notify(n)
	m.scheduleRetry()
}

func (m *LockdownMonitor) onFullscreenRejected(reason string) {
	if !m.hooks.Active() {
		return
	}
	m.log.Debug().Str("reason", reason).Msg("Fullscreen request rejected")
	n := newNotice(NoticeFullscreenDenied)
	n.Transient = true
	m.hooks.Notify(n)
	m.scheduleRetry()
}

// onFocusLost handles both visibility and blur signals. The threshold check
// reads the counter after incrementing it, on the loop, so it never sees a
// stale value.
func (m *LockdownMonitor) onFocusLost(kind model.ViolationKind) {
	if !m.hooks.Active() {
		return
	}
	m.warnings++
	m.hooks.Record(kind, "")

	n := newNotice(NoticeLockdownWarning)
	n.WarningCount = m.warnings
	n.Threshold = m.threshold
	m.hooks.Notify(n)

	m.log.Info().
		Str("kind", string(kind)).
		Int("warnings", m.warnings).
		Int("threshold", m.threshold).
		Msg("Focus lost")

	if m.warnings >= m.threshold {
		m.hooks.Escalate()
	}
}

func (m *LockdownMonitor) onInputBlocked(kind InputKind, combo string) {
	if !m.hooks.Active() {
		return
	}
	detail := string(kind)
	if kind == InputKey {
		if !IsDeniedCombo(combo) {
			return
		}
		detail = NormalizeCombo(combo)
	}
	m.hooks.Record(model.ViolationBlockedInput, detail)
	n := newNotice(NoticeInputBlocked)
	n.Transient = true
	m.hooks.Notify(n)
}

// subscription is the one object the platform talks to. Events reaching a
// detached subscription are dropped.
type subscription struct {
	monitor  *LockdownMonitor
	unlisten func()
	detached bool
}

func (s *subscription) FullscreenChanged(active bool) {
	if s.detached {
		return
	}
	s.monitor.onFullscreenChanged(active)
}

func (s *subscription) FullscreenRejected(reason string) {
	if s.detached {
		return
	}
	s.monitor.onFullscreenRejected(reason)
}

func (s *subscription) VisibilityHidden() {
	if s.detached {
		return
	}
	s.monitor.onFocusLost(model.ViolationVisibilityHidden)
}

func (s *subscription) WindowBlurred() {
	if s.detached {
		return
	}
	s.monitor.onFocusLost(model.ViolationWindowBlur)
}

func (s *subscription) InputBlocked(kind InputKind, combo string) {
	if s.detached {
		return
	}
	s.monitor.onInputBlocked(kind, combo)
}
