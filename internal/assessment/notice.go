package assessment

import (
	"github.com/stemsi/exstem-screening/internal/model"
)

// NoticeKind identifies a user-visible message.
type NoticeKind string

const (
	NoticeLockdownWarning  NoticeKind = "lockdown_warning"
	NoticeInputBlocked     NoticeKind = "input_blocked"
	NoticeFullscreenExited NoticeKind = "fullscreen_exited"
	NoticeFullscreenDenied NoticeKind = "fullscreen_denied"
	NoticeDeviceError      NoticeKind = "device_error"
	NoticeLoadFailed       NoticeKind = "load_failed"
	NoticeConfirmRequired  NoticeKind = "confirm_required"
	NoticeForcedSubmit     NoticeKind = "forced_submit"
	NoticeResponsesNeeded  NoticeKind = "responses_required"
	NoticeSubmitFailed     NoticeKind = "submit_failed"
	NoticeUpgradeRequired  NoticeKind = "upgrade_required"
	NoticeCompleted        NoticeKind = "completed"
	NoticeAlreadyCompleted NoticeKind = "already_completed"
)

var noticeMessages = map[NoticeKind]string{
	NoticeLockdownWarning:  "You left the assessment window. Repeated violations will submit your assessment automatically.",
	NoticeInputBlocked:     "This action is disabled during the assessment.",
	NoticeFullscreenExited: "Fullscreen mode is required. Returning to fullscreen.",
	NoticeFullscreenDenied: "Fullscreen request was blocked by the browser. Retrying.",
	NoticeDeviceError:      "Camera access is required to start the assessment.",
	NoticeLoadFailed:       "The assessment could not be loaded. Please try again.",
	NoticeConfirmRequired:  "Some questions are unanswered. Submit anyway?",
	NoticeForcedSubmit:     "Your assessment is being submitted.",
	NoticeResponsesNeeded:  "Please answer all questions before submitting.",
	NoticeSubmitFailed:     "Submission failed. Please try again.",
	NoticeUpgradeRequired:  "This job is not accepting assessments right now. The employer needs an active subscription.",
	NoticeCompleted:        "Assessment submitted.",
	NoticeAlreadyCompleted: "You have already completed this assessment.",
}

// Notice is a message surfaced to the subject.
type Notice struct {
	Kind      NoticeKind    `json:"kind"`
	Message   string        `json:"message"`
	Transient bool          `json:"transient,omitempty"`
	Trigger   model.Trigger `json:"trigger,omitempty"`
	// Lockdown warnings.
	WarningCount int `json:"warning_count,omitempty"`
	Threshold    int `json:"threshold,omitempty"`
	// Confirmation requests.
	Unanswered int `json:"unanswered,omitempty"`
	Remaining  int `json:"remaining,omitempty"`
	// Retryable is set on failures the subject can retry from.
	Retryable bool `json:"retryable,omitempty"`
}

func newNotice(kind NoticeKind) Notice {
	return Notice{Kind: kind, Message: noticeMessages[kind]}
}

// Observer receives everything the presentation layer renders.
type Observer interface {
	QuestionsLoaded(questions []model.Question)
	StateChanged(snapshot model.SessionSnapshot)
	Tick(remaining int)
	Notify(n Notice)
}

// Recorder receives the audit trail of a session. Implementations must not
// block the loop.
type Recorder interface {
	RecordAnswer(id Identity, a model.Answer)
	RecordViolation(v model.Violation)
	RecordAttempt(a model.Attempt)
}
