package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationKind classifies a lockdown event.
type ViolationKind string

const (
	ViolationVisibilityHidden ViolationKind = "VISIBILITY_HIDDEN"
	ViolationWindowBlur       ViolationKind = "WINDOW_BLUR"
	ViolationFullscreenExit   ViolationKind = "FULLSCREEN_EXIT"
	ViolationBlockedInput     ViolationKind = "BLOCKED_INPUT"
)

// Escalates reports whether the kind counts toward the warning threshold.
// Blocked input only produces a transient warning.
func (k ViolationKind) Escalates() bool {
	return k == ViolationVisibilityHidden || k == ViolationWindowBlur
}

// Violation is one recorded lockdown event.
type Violation struct {
	SessionID    uuid.UUID     `json:"session_id"`
	AssessmentID uuid.UUID     `json:"assessment_id"`
	SubjectID    int           `json:"subject_id"`
	Kind         ViolationKind `json:"kind"`
	Detail       string        `json:"detail,omitempty"`
	WarningCount int           `json:"warning_count"`
	RecordedAt   time.Time     `json:"recorded_at"`
}
