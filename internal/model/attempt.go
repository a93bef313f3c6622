package model

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is the persisted outcome of one session.
type Attempt struct {
	SessionID     uuid.UUID `json:"session_id"`
	AssessmentID  uuid.UUID `json:"assessment_id"`
	JobID         uuid.UUID `json:"job_id"`
	SubjectID     int       `json:"subject_id"`
	Stage         Stage     `json:"stage"`
	Trigger       Trigger   `json:"trigger,omitempty"`
	WarningCount  int       `json:"warning_count"`
	AnsweredCount int       `json:"answered_count"`
	QuestionCount int       `json:"question_count"`
	FinishedAt    time.Time `json:"finished_at"`
}

// ApplicationStatus mirrors the job-application record kept by the jobs
// platform.
type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "PENDING"
	ApplicationStatusSubmitted ApplicationStatus = "SUBMITTED"
)
