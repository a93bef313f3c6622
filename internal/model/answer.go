package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Letter is a single-letter option choice (A, B, C, D, ...). The zero value
// means the question was never answered.
type Letter string

// Absent reports whether no choice was made.
func (l Letter) Absent() bool { return l == "" }

// ParseLetter normalizes a client-supplied choice. It accepts one ASCII
// letter in either case and rejects everything else.
func ParseLetter(s string) (Letter, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 1 {
		return "", false
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return "", false
	}
	return Letter(c), true
}

// Index returns the zero-based option index of the letter.
func (l Letter) Index() int {
	if l.Absent() {
		return -1
	}
	return int(l[0] - 'A')
}

// MarshalJSON encodes an absent letter as null.
func (l Letter) MarshalJSON() ([]byte, error) {
	if l.Absent() {
		return []byte("null"), nil
	}
	return json.Marshal(string(l))
}

// UnmarshalJSON accepts null or a single-letter string.
func (l *Letter) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = Letter(s)
	return nil
}

// Answer is the per-question response sent to the grader.
type Answer struct {
	QuestionID int    `json:"question_id"`
	Value      Letter `json:"value"`
	SkillID    int    `json:"skill_id"`
}

// SubmissionRequest is the body accepted by the remote grader.
type SubmissionRequest struct {
	Responses []Answer `json:"responses"`
}

// AnswerRecord is one autosaved selection, queued for persistence.
type AnswerRecord struct {
	SessionID    uuid.UUID `json:"session_id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	SubjectID    int       `json:"subject_id"`
	QuestionID   int       `json:"question_id"`
	Value        Letter    `json:"value"`
	SkillID      int       `json:"skill_id"`
	RecordedAt   time.Time `json:"recorded_at"`
}
