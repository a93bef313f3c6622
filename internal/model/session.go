package model

import (
	"github.com/google/uuid"
)

// Stage enumerates the lifecycle phases of one assessment session.
type Stage string

const (
	StageInitializing     Stage = "INITIALIZING"
	StageInProgress       Stage = "IN_PROGRESS"
	StageSubmitting       Stage = "SUBMITTING"
	StageCompleted        Stage = "COMPLETED"
	StageAlreadyCompleted Stage = "ALREADY_COMPLETED"
	// StageUpgradeRequired is reached when the grader reports that the job
	// owner has no active subscription. Only an out-of-band upgrade helps.
	StageUpgradeRequired Stage = "UPGRADE_REQUIRED"
)

// Terminal reports whether no further timer, lockdown or camera activity may
// happen in this stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageAlreadyCompleted, StageUpgradeRequired:
		return true
	}
	return false
}

// Trigger identifies what started a submission attempt.
type Trigger string

const (
	TriggerManual            Trigger = "MANUAL"
	TriggerTimeExpired       Trigger = "TIME_EXPIRED"
	TriggerLockdownViolation Trigger = "LOCKDOWN_VIOLATION"
)

// Forced reports whether the trigger bypasses the incomplete-answers
// confirmation.
func (t Trigger) Forced() bool {
	return t == TriggerTimeExpired || t == TriggerLockdownViolation
}

// SessionSnapshot is the read model handed to the presentation layer.
type SessionSnapshot struct {
	SessionID            uuid.UUID      `json:"session_id"`
	AssessmentID         uuid.UUID      `json:"assessment_id"`
	SubjectID            int            `json:"subject_id"`
	Stage                Stage          `json:"stage"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	QuestionCount        int            `json:"question_count"`
	RemainingSeconds     int            `json:"remaining_seconds"`
	AnswersByQuestionID  map[int]Letter `json:"answers_by_question_id"`
	WarningCount         int            `json:"warning_count"`
	WarningThreshold     int            `json:"warning_threshold"`
	IsFullscreen         bool           `json:"is_fullscreen"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation"`
}
