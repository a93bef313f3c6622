package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-screening/internal/model"
)

// AssessmentRepository handles assessment catalog data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetCatalog loads an assessment with its skills and questions in display
// order. Returns pgx.ErrNoRows when the assessment does not exist.
func (r *AssessmentRepository) GetCatalog(ctx context.Context, id uuid.UUID) (*model.Catalog, model.AssessmentStatus, error) {
	c := &model.Catalog{AssessmentID: id}
	var status model.AssessmentStatus
	err := r.pool.QueryRow(ctx,
		`SELECT job_id, title, time_budget, status
		 FROM assessments WHERE id = $1`, id,
	).Scan(&c.JobID, &c.Title, &c.TimeBudget, &status)
	if err != nil {
		return nil, "", err
	}

	// LEFT JOIN keeps skills that have no questions yet.
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, q.id, q.prompt, q.options
		 FROM skills s
		 LEFT JOIN questions q ON q.skill_id = s.id
		 WHERE s.assessment_id = $1
		 ORDER BY s.position, s.id, q.position, q.id`, id,
	)
	if err != nil {
		return nil, "", fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			skillID   int
			skillName string
			qID       *int
			prompt    *string
			options   []string
		)
		if err := rows.Scan(&skillID, &skillName, &qID, &prompt, &options); err != nil {
			return nil, "", err
		}
		if n := len(c.Skills); n == 0 || c.Skills[n-1].ID != skillID {
			c.Skills = append(c.Skills, model.Skill{ID: skillID, Name: skillName})
		}
		if qID == nil {
			continue
		}
		skill := &c.Skills[len(c.Skills)-1]
		skill.Questions = append(skill.Questions, model.Question{
			ID:      *qID,
			Prompt:  *prompt,
			Options: options,
			SkillID: skillID,
		})
	}
	return c, status, rows.Err()
}

// ListPublishedIDs returns the ids of all PUBLISHED assessments.
// Used for cache prewarming on application startup.
func (r *AssessmentRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM assessments WHERE status = $1 ORDER BY created_at DESC`,
		model.AssessmentStatusPublished)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// CreateCatalog inserts an assessment with all of its skills and questions in
// one transaction. The catalog's AssessmentID and skill/question ids are
// filled in from the database.
func (r *AssessmentRepository) CreateCatalog(ctx context.Context, c *model.Catalog, status model.AssessmentStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if c.AssessmentID == uuid.Nil {
		c.AssessmentID = uuid.New()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO assessments (id, job_id, title, time_budget, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.AssessmentID, c.JobID, c.Title, c.TimeBudget, status,
	); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	for si := range c.Skills {
		skill := &c.Skills[si]
		if err := tx.QueryRow(ctx,
			`INSERT INTO skills (assessment_id, name, position) VALUES ($1, $2, $3) RETURNING id`,
			c.AssessmentID, skill.Name, si,
		).Scan(&skill.ID); err != nil {
			return fmt.Errorf("insert skill %q: %w", skill.Name, err)
		}

		for qi := range skill.Questions {
			q := &skill.Questions[qi]
			q.SkillID = skill.ID
			if err := tx.QueryRow(ctx,
				`INSERT INTO questions (skill_id, prompt, options, position) VALUES ($1, $2, $3, $4) RETURNING id`,
				skill.ID, q.Prompt, q.Options, qi,
			).Scan(&q.ID); err != nil {
				return fmt.Errorf("insert question %d of skill %q: %w", qi+1, skill.Name, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// UpdateStatus updates an assessment's status.
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessments SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
