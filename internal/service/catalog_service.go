package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

// Catalog errors.
var (
	ErrAssessmentNotFound     = errors.New("assessment not found")
	ErrAssessmentNotPublished = errors.New("assessment is not published")
)

type catalogRepository interface {
	GetCatalog(ctx context.Context, id uuid.UUID) (*model.Catalog, model.AssessmentStatus, error)
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
}

// CatalogService serves assessment catalogs from Redis, falling back to
// PostgreSQL and repopulating the cache on a miss.
type CatalogService struct {
	repo catalogRepository
	rdb  kvCache
	log  zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(repo catalogRepository, rdb *redis.Client, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "catalog_service").Logger(),
	}
}

// FetchCatalog returns the published catalog of an assessment.
func (s *CatalogService) FetchCatalog(ctx context.Context, assessmentID uuid.UUID) (*model.Catalog, error) {
	key := config.CacheKey.CatalogPayloadKey(assessmentID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c model.Catalog
		if err := json.Unmarshal(data, &c); err == nil {
			return &c, nil
		}
		s.log.Warn().Str("assessment_id", assessmentID.String()).Msg("Discarding corrupt cached catalog")
	case !errors.Is(err, redis.Nil):
		// Redis trouble is not fatal; the database is the source of truth.
		s.log.Warn().Err(err).Msg("Catalog cache read failed")
	}

	c, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, c); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Catalog cache write failed")
	}
	return c, nil
}

func (s *CatalogService) load(ctx context.Context, assessmentID uuid.UUID) (*model.Catalog, error) {
	c, status, err := s.repo.GetCatalog(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if status != model.AssessmentStatusPublished {
		return nil, ErrAssessmentNotPublished
	}
	return c, nil
}

func (s *CatalogService) store(ctx context.Context, c *model.Catalog) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.CatalogPayloadKey(c.AssessmentID.String()), payload, 0).Err()
}

// WarmCatalog (re)loads one assessment into the cache. Unpublished
// assessments are evicted.
func (s *CatalogService) WarmCatalog(ctx context.Context, assessmentID uuid.UUID) error {
	c, err := s.load(ctx, assessmentID)
	if errors.Is(err, ErrAssessmentNotPublished) || errors.Is(err, ErrAssessmentNotFound) {
		return s.rdb.Del(ctx, config.CacheKey.CatalogPayloadKey(assessmentID.String())).Err()
	}
	if err != nil {
		return err
	}
	if err := s.store(ctx, c); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assessment_id", assessmentID.String()).
		Int("questions", c.QuestionCount()).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads all published assessments into Redis on application
// startup.
func (s *CatalogService) PrewarmAll(ctx context.Context) error {
	ids, err := s.repo.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published assessments: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No published assessments to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published assessments...")

	warmed := 0
	for _, id := range ids {
		if err := s.WarmCatalog(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("assessment_id", id.String()).
				Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}
