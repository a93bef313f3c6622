package model

import (
	"github.com/google/uuid"
)

// Question is a single multiple-choice item. Immutable once loaded.
type Question struct {
	ID      int      `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	SkillID int      `json:"skill_id"`
}

// Skill groups the questions that assess one skill, in display order.
type Skill struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// Catalog is the skill-grouped question set of one assessment.
// TimeBudget is stored exactly as the job owner entered it; see
// assessment.SeedSeconds for how it is interpreted.
type Catalog struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	JobID        uuid.UUID `json:"job_id"`
	Title        string    `json:"title"`
	TimeBudget   int       `json:"time_budget"`
	Skills       []Skill   `json:"skills"`
}

// QuestionCount returns the number of questions across all skills.
func (c *Catalog) QuestionCount() int {
	n := 0
	for _, s := range c.Skills {
		n += len(s.Questions)
	}
	return n
}

// AssessmentStatus is the publication state of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
)
