package catalogfile

import (
	"errors"
	"strings"
	"testing"
)

const valid = `
job_id: 6f0c5d0e-3f4b-4a51-9a53-9a1d0b9c1e77
title: "  Backend screening "
time_budget: 30
skills:
  - name: Go
    questions:
      - prompt: What does defer do?
        options: [Runs at return, Spawns a goroutine]
      - prompt: Zero value of a map?
        options: [nil, empty map, panic]
  - name: SQL
    questions:
      - prompt: Which clause filters groups?
        options: [WHERE, HAVING]
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(valid))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Title != "Backend screening" {
		t.Errorf("title = %q", c.Title)
	}
	if c.TimeBudget != 30 || c.JobID.String() != "6f0c5d0e-3f4b-4a51-9a53-9a1d0b9c1e77" {
		t.Errorf("budget = %d job = %s", c.TimeBudget, c.JobID)
	}
	if len(c.Skills) != 2 || c.QuestionCount() != 3 {
		t.Errorf("skills = %d questions = %d", len(c.Skills), c.QuestionCount())
	}
	if got := c.Skills[0].Questions[1].Options; len(got) != 3 || got[0] != "nil" {
		t.Errorf("options = %v", got)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"bad job id":     strings.Replace(valid, "6f0c5d0e-3f4b-4a51-9a53-9a1d0b9c1e77", "nope", 1),
		"no budget":      strings.Replace(valid, "time_budget: 30", "time_budget: 0", 1),
		"unknown field":  valid + "\nshuffle: true\n",
		"single option":  strings.Replace(valid, "[WHERE, HAVING]", "[WHERE]", 1),
		"empty prompt":   strings.Replace(valid, "prompt: Which clause filters groups?", `prompt: ""`, 1),
		"no skills":      "job_id: 6f0c5d0e-3f4b-4a51-9a53-9a1d0b9c1e77\ntitle: x\ntime_budget: 5\n",
		"malformed yaml": "job_id: [",
	}
	for name, doc := range tests {
		if _, err := Parse(strings.NewReader(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", name, err)
		}
	}
}
