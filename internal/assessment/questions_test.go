package assessment

import (
	"testing"

	"github.com/stemsi/exstem-screening/internal/model"
)

func TestBuildQuestionModelKeepsSkillOrder(t *testing.T) {
	c := &model.Catalog{
		Skills: []model.Skill{
			{ID: 7, Questions: []model.Question{{ID: 30}, {ID: 10}}},
			{ID: 3, Questions: nil},
			{ID: 5, Questions: []model.Question{{ID: 20}}},
		},
	}

	qm := BuildQuestionModel(c)

	if qm.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", qm.Len())
	}
	wantIDs := []int{30, 10, 20}
	wantSkills := []int{7, 7, 5}
	for i, q := range qm.Questions {
		if q.ID != wantIDs[i] {
			t.Errorf("Questions[%d].ID = %d, want %d", i, q.ID, wantIDs[i])
		}
		if q.SkillID != wantSkills[i] {
			t.Errorf("Questions[%d].SkillID = %d, want %d", i, q.SkillID, wantSkills[i])
		}
		if qm.SkillOf[q.ID] != wantSkills[i] {
			t.Errorf("SkillOf[%d] = %d, want %d", q.ID, qm.SkillOf[q.ID], wantSkills[i])
		}
	}

	if _, ok := qm.Find(20); !ok {
		t.Error("Find(20) did not find the question")
	}
	if _, ok := qm.Find(99); ok {
		t.Error("Find(99) found a question that does not exist")
	}
}

func TestSeedSeconds(t *testing.T) {
	tests := []struct {
		budget int
		want   int
	}{
		{budget: 10, want: 600},
		{budget: 1, want: 60},
		{budget: 59, want: 3540},
		{budget: 60, want: 60},
		{budget: 90, want: 60},
		{budget: 1800, want: 1800},
		{budget: 1830, want: 1800},
		{budget: 0, want: 0},
		{budget: -5, want: 0},
	}

	for _, tt := range tests {
		if got := SeedSeconds(tt.budget); got != tt.want {
			t.Errorf("SeedSeconds(%d) = %d, want %d", tt.budget, got, tt.want)
		}
	}
}
