package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

// appliedTTL bounds how long a positive application lookup is cached.
const appliedTTL = 24 * time.Hour

type applicationRepository interface {
	Exists(ctx context.Context, jobID uuid.UUID, subjectID int) (bool, error)
	Upsert(ctx context.Context, jobID uuid.UUID, subjectID int, status model.ApplicationStatus) error
}

// ApplicationService answers "has this subject already applied to the job".
type ApplicationService struct {
	repo applicationRepository
	rdb  kvCache
	log  zerolog.Logger
}

// NewApplicationService creates a new ApplicationService.
func NewApplicationService(repo applicationRepository, rdb *redis.Client, log zerolog.Logger) *ApplicationService {
	return &ApplicationService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "application_service").Logger(),
	}
}

// HasApplied reports whether the subject already has an application for the
// job. Only positive answers are cached.
func (s *ApplicationService) HasApplied(ctx context.Context, subjectID int, jobID uuid.UUID) (bool, error) {
	key := config.CacheKey.SubjectAppliedKey(jobID.String(), subjectID)
	if n, err := s.rdb.Exists(ctx, key).Result(); err == nil && n > 0 {
		return true, nil
	}

	applied, err := s.repo.Exists(ctx, jobID, subjectID)
	if err != nil {
		return false, fmt.Errorf("check application: %w", err)
	}
	if applied {
		if err := s.rdb.Set(ctx, key, 1, appliedTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache application lookup")
		}
	}
	return applied, nil
}

// MarkApplied records a finished screening for the job. The cache entry is
// written first so a reconnect sees it even if the database write lags.
func (s *ApplicationService) MarkApplied(ctx context.Context, subjectID int, jobID uuid.UUID) error {
	key := config.CacheKey.SubjectAppliedKey(jobID.String(), subjectID)
	if err := s.rdb.Set(ctx, key, 1, appliedTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache completed screening")
	}
	if err := s.repo.Upsert(ctx, jobID, subjectID, model.ApplicationStatusPending); err != nil {
		return fmt.Errorf("record application: %w", err)
	}
	return nil
}
