// Package catalogfile reads assessment catalogs authored as YAML.
//
//	job_id: 6f0c5d0e-3f4b-4a51-9a53-9a1d0b9c1e77
//	title: Backend screening
//	time_budget: 30        # minutes
//	skills:
//	  - name: Go
//	    questions:
//	      - prompt: What does defer do?
//	        options: [Runs at return, Spawns a goroutine]
package catalogfile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-screening/internal/model"
	"gopkg.in/yaml.v3"
)

// maxOptions keeps every option addressable by a single letter.
const maxOptions = 26

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid catalog file")

type fileQuestion struct {
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options"`
}

type fileSkill struct {
	Name      string         `yaml:"name"`
	Questions []fileQuestion `yaml:"questions"`
}

type file struct {
	AssessmentID string      `yaml:"assessment_id"`
	JobID        string      `yaml:"job_id"`
	Title        string      `yaml:"title"`
	TimeBudget   int         `yaml:"time_budget"`
	Skills       []fileSkill `yaml:"skills"`
}

// Parse decodes and validates a catalog. Skill and question ids are left
// zero for the database to assign.
func Parse(r io.Reader) (*model.Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	c := &model.Catalog{
		Title:      strings.TrimSpace(f.Title),
		TimeBudget: f.TimeBudget,
	}
	var err error
	if f.AssessmentID != "" {
		if c.AssessmentID, err = uuid.Parse(f.AssessmentID); err != nil {
			return nil, fmt.Errorf("%w: assessment_id: %w", ErrInvalid, err)
		}
	}
	if c.JobID, err = uuid.Parse(f.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id: %w", ErrInvalid, err)
	}
	if c.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if c.TimeBudget <= 0 {
		return nil, fmt.Errorf("%w: time_budget must be positive", ErrInvalid)
	}
	if len(f.Skills) == 0 {
		return nil, fmt.Errorf("%w: at least one skill is required", ErrInvalid)
	}

	for si, fs := range f.Skills {
		skill := model.Skill{Name: strings.TrimSpace(fs.Name)}
		if skill.Name == "" {
			return nil, fmt.Errorf("%w: skill %d has no name", ErrInvalid, si+1)
		}
		if len(fs.Questions) == 0 {
			return nil, fmt.Errorf("%w: skill %q has no questions", ErrInvalid, skill.Name)
		}
		for qi, fq := range fs.Questions {
			where := fmt.Sprintf("skill %q question %d", skill.Name, qi+1)
			if strings.TrimSpace(fq.Prompt) == "" {
				return nil, fmt.Errorf("%w: %s has no prompt", ErrInvalid, where)
			}
			if len(fq.Options) < 2 || len(fq.Options) > maxOptions {
				return nil, fmt.Errorf("%w: %s needs between 2 and %d options", ErrInvalid, where, maxOptions)
			}
			skill.Questions = append(skill.Questions, model.Question{
				Prompt:  strings.TrimSpace(fq.Prompt),
				Options: fq.Options,
			})
		}
		c.Skills = append(c.Skills, skill)
	}
	return c, nil
}
