package assessment

import (
	"errors"
)

// Device errors. Fatal to entering IN_PROGRESS; the session stays
// INITIALIZING and the subject may retry.
var (
	ErrCameraDenied      = errors.New("camera permission denied")
	ErrCameraUnavailable = errors.New("no camera available")
	errCaptureCancelled  = errors.New("camera acquisition cancelled")
)

// Remote grader failures.
var (
	// ErrNoSubscription means the job owner has no active subscription.
	ErrNoSubscription = errors.New("no active subscription")
	// ErrResponsesRequired means the grader rejected an empty or invalid
	// response set.
	ErrResponsesRequired = errors.New("responses required")
)

// Consumer operation errors.
var (
	ErrNotInProgress     = errors.New("session is not in progress")
	ErrSubmissionStarted = errors.New("submission already started")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidChoice     = errors.New("choice is not one of the question's options")
	ErrIllegalTransition = errors.New("illegal stage transition")
)

// FailureClass is the recovery policy for a failed submission.
type FailureClass int

const (
	// FailureGeneric covers network and unexpected grader errors.
	FailureGeneric FailureClass = iota
	// FailureValidation is recoverable once the subject answers more.
	FailureValidation
	// FailureEntitlement is recoverable only through an out-of-band upgrade.
	FailureEntitlement
)

// ClassifySubmitError maps a grader error onto its recovery policy.
func ClassifySubmitError(err error) FailureClass {
	switch {
	case errors.Is(err, ErrNoSubscription):
		return FailureEntitlement
	case errors.Is(err, ErrResponsesRequired):
		return FailureValidation
	default:
		return FailureGeneric
	}
}
