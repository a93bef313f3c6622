package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-screening/internal/model"
)

// ApplicationRepository reads the job-application mirror.
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(pool *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{pool: pool}
}

// Exists reports whether the subject has any application record for the job.
func (r *ApplicationRepository) Exists(ctx context.Context, jobID uuid.UUID, subjectID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE job_id = $1 AND subject_id = $2)`,
		jobID, subjectID,
	).Scan(&exists)
	return exists, err
}

// Upsert records an application, keeping the existing row if one is present.
func (r *ApplicationRepository) Upsert(ctx context.Context, jobID uuid.UUID, subjectID int, status model.ApplicationStatus) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO applications (job_id, subject_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, subject_id) DO NOTHING`,
		jobID, subjectID, status)
	return err
}
