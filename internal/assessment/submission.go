package assessment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-screening/internal/model"
)

// Grader is the remote collaborator that receives the answer list.
type Grader interface {
	Submit(ctx context.Context, assessmentID uuid.UUID, answers []model.Answer) error
}

// SubmissionController is the only path that sends answers to the grader.
//
// guard is a latch checked synchronously at the top of every trigger path.
// It is plain state, read and written only on the loop, so whichever of
// the manual, timer and lockdown triggers runs first wins.
type SubmissionController struct {
	s       *Session
	grader  Grader
	timeout time.Duration

	guard   bool
	confirm []model.Answer
	// last holds the answers and trigger of the most recent remote attempt,
	// kept for Retry.
	last        []model.Answer
	lastTrigger model.Trigger
	attempts    int
}

func newSubmissionController(s *Session, grader Grader, timeout time.Duration) *SubmissionController {
	return &SubmissionController{s: s, grader: grader, timeout: timeout}
}

// Guarded reports whether a submission attempt currently holds the guard.
func (c *SubmissionController) Guarded() bool { return c.guard }

// AwaitingConfirmation reports whether the subject must confirm an
// incomplete manual submission.
func (c *SubmissionController) AwaitingConfirmation() bool { return c.confirm != nil }

// Attempts returns the number of remote calls made.
func (c *SubmissionController) Attempts() int { return c.attempts }

// Submit starts a submission attempt. It returns false without side effects
// when another attempt holds the guard, the subject already applied, or the
// session is not in progress.
func (c *SubmissionController) Submit(trigger model.Trigger) bool {
	s := c.s
	if c.guard || s.closed || s.priorApplication || s.stage != model.StageInProgress {
		s.log.Debug().Str("trigger", string(trigger)).Bool("guard", c.guard).Msg("Submit ignored")
		return false
	}
	c.guard = true
	s.timer.Stop()
	s.media.Release()

	answers := s.buildAnswers()
	unanswered := countAbsent(answers)

	if trigger == model.TriggerManual && unanswered > 0 && s.timer.Remaining() > 0 {
		c.confirm = answers
		n := newNotice(NoticeConfirmRequired)
		n.Unanswered = unanswered
		n.Remaining = s.timer.Remaining()
		s.observer.Notify(n)
		s.publish()
		return true
	}

	if trigger.Forced() {
		n := newNotice(NoticeForcedSubmit)
		n.Trigger = trigger
		s.observer.Notify(n)
	}
	c.send(trigger, answers)
	return true
}

// ResolveConfirmation answers a pending confirmation. proceed submits the
// partial answers; otherwise the subject returns to the assessment.
func (c *SubmissionController) ResolveConfirmation(proceed bool) bool {
	if c.confirm == nil || c.s.closed {
		return false
	}
	answers := c.confirm
	c.confirm = nil

	if proceed {
		c.send(model.TriggerManual, answers)
		return true
	}

	c.resume()
	c.s.publish()
	// Violations that arrived while the guard was held were ignored; act on
	// them now.
	if c.s.lockdown.ThresholdReached() {
		c.Submit(model.TriggerLockdownViolation)
	}
	return true
}

// Retry re-sends the last answer list after a recoverable failure that left
// the guard set because no time remained.
func (c *SubmissionController) Retry() bool {
	s := c.s
	if !c.guard || s.closed || c.confirm != nil || c.last == nil || s.stage != model.StageInProgress {
		return false
	}
	c.send(c.lastTrigger, c.last)
	return true
}

func (c *SubmissionController) send(trigger model.Trigger, answers []model.Answer) {
	s := c.s
	if err := s.transition(model.StageSubmitting); err != nil {
		return
	}
	c.last = answers
	c.lastTrigger = trigger
	c.attempts++
	s.publish()

	s.log.Info().
		Str("trigger", string(trigger)).
		Int("answers", len(answers)).
		Int("unanswered", countAbsent(answers)).
		Int("attempt", c.attempts).
		Msg("Submitting responses")

	var err error
	ctx := s.ctx
	s.loop.Await(func() {
		// The remote call is not cancelled when the session closes; a
		// submission that reached the grader must still be recorded.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		err = c.grader.Submit(callCtx, s.id.AssessmentID, answers)
	}, func() {
		c.finish(trigger, err)
	})
}

func (c *SubmissionController) finish(trigger model.Trigger, err error) {
	s := c.s
	if err == nil {
		s.log.Info().Str("trigger", string(trigger)).Msg("Responses accepted")
		_ = s.transition(model.StageCompleted)
		if !s.closed {
			s.teardown()
			s.observer.Notify(newNotice(NoticeCompleted))
			s.publish()
		}
		s.recordAttempt(trigger)
		return
	}

	class := ClassifySubmitError(err)
	s.log.Warn().Err(err).Str("trigger", string(trigger)).Int("class", int(class)).Msg("Submission failed")

	if class == FailureEntitlement {
		_ = s.transition(model.StageUpgradeRequired)
		if !s.closed {
			s.teardown()
			s.observer.Notify(newNotice(NoticeUpgradeRequired))
			s.publish()
		}
		s.recordAttempt(trigger)
		return
	}

	_ = s.transition(model.StageInProgress)
	if s.closed {
		s.recordAttempt(trigger)
		return
	}

	n := newNotice(NoticeSubmitFailed)
	if class == FailureValidation {
		n = newNotice(NoticeResponsesNeeded)
	}
	n.Retryable = true
	n.Trigger = trigger
	s.observer.Notify(n)

	if s.timer.Remaining() > 0 {
		c.resume()
	}
	s.publish()
}

// resume clears the guard and brings the timed environment back.
func (c *SubmissionController) resume() {
	s := c.s
	c.guard = false
	if s.stage != model.StageInProgress || s.priorApplication {
		return
	}
	s.timer.Start()
	s.media.Acquire(s.ctx, func(err error) {
		if err != nil && !errors.Is(err, errCaptureCancelled) && s.stage == model.StageInProgress {
			s.observer.Notify(newNotice(NoticeDeviceError))
		}
	})
}

func countAbsent(answers []model.Answer) int {
	n := 0
	for _, a := range answers {
		if a.Value.Absent() {
			n++
		}
	}
	return n
}
