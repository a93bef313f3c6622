package assessment

import (
	"github.com/stemsi/exstem-screening/internal/model"
)

// QuestionModel is the flattened view of a catalog used for the whole session.
type QuestionModel struct {
	Questions []model.Question
	SkillOf   map[int]int
}

// BuildQuestionModel flattens a skill-grouped catalog into one ordered list,
// keeping skill-then-question order, and indexes each question's skill.
func BuildQuestionModel(c *model.Catalog) QuestionModel {
	qm := QuestionModel{
		Questions: make([]model.Question, 0, c.QuestionCount()),
		SkillOf:   make(map[int]int, c.QuestionCount()),
	}
	for _, skill := range c.Skills {
		for _, q := range skill.Questions {
			q.SkillID = skill.ID
			qm.Questions = append(qm.Questions, q)
			qm.SkillOf[q.ID] = skill.ID
		}
	}
	return qm
}

// Len returns the number of questions.
func (qm QuestionModel) Len() int { return len(qm.Questions) }

// Find returns the question with the given id.
func (qm QuestionModel) Find(id int) (model.Question, bool) {
	for _, q := range qm.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return model.Question{}, false
}

// SeedSeconds converts a catalog time budget into the countdown seed.
//
// Budgets below 60 are minutes. Budgets of 60 or more are taken to be
// seconds and floor-divided to whole minutes. Either way the result is
// minutes*60, so a 90-minute budget entered as "90" becomes one minute.
// Stored budgets depend on this cut-over.
func SeedSeconds(budget int) int {
	if budget <= 0 {
		return 0
	}
	minutes := budget
	if budget >= 60 {
		minutes = budget / 60
	}
	return minutes * 60
}
