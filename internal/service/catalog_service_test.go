package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

func newTestCatalogService(repo *fakeCatalogRepo, cache *memCache) *CatalogService {
	return &CatalogService{repo: repo, rdb: cache, log: zerolog.Nop()}
}

func TestFetchCatalogFillsCacheOnMiss(t *testing.T) {
	c := sampleCatalog()
	repo := &fakeCatalogRepo{catalogs: map[uuid.UUID]storedCatalog{
		c.AssessmentID: {catalog: c, status: model.AssessmentStatusPublished},
	}}
	cache := newMemCache()
	s := newTestCatalogService(repo, cache)
	ctx := context.Background()

	got, err := s.FetchCatalog(ctx, c.AssessmentID)
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if got.Title != c.Title || got.QuestionCount() != 1 {
		t.Errorf("catalog = %+v", got)
	}
	if _, ok := cache.data[config.CacheKey.CatalogPayloadKey(c.AssessmentID.String())]; !ok {
		t.Fatal("catalog not cached after a miss")
	}

	if _, err := s.FetchCatalog(ctx, c.AssessmentID); err != nil {
		t.Fatalf("second FetchCatalog: %v", err)
	}
	if repo.loads != 1 {
		t.Errorf("repository loads = %d, want 1", repo.loads)
	}
}

func TestFetchCatalogFallsBackToDatabase(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cache *memCache, key string)
	}{
		{name: "corrupt entry", setup: func(cache *memCache, key string) { cache.data[key] = "{not json" }},
		{name: "redis error", setup: func(cache *memCache, _ string) { cache.getErr = errors.New("connection refused") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleCatalog()
			repo := &fakeCatalogRepo{catalogs: map[uuid.UUID]storedCatalog{
				c.AssessmentID: {catalog: c, status: model.AssessmentStatusPublished},
			}}
			cache := newMemCache()
			tt.setup(cache, config.CacheKey.CatalogPayloadKey(c.AssessmentID.String()))

			got, err := newTestCatalogService(repo, cache).FetchCatalog(context.Background(), c.AssessmentID)
			if err != nil {
				t.Fatalf("FetchCatalog: %v", err)
			}
			if got.AssessmentID != c.AssessmentID || repo.loads != 1 {
				t.Errorf("catalog %s after %d loads", got.AssessmentID, repo.loads)
			}
		})
	}
}

func TestFetchCatalogRefusals(t *testing.T) {
	draft := sampleCatalog()
	repo := &fakeCatalogRepo{catalogs: map[uuid.UUID]storedCatalog{
		draft.AssessmentID: {catalog: draft, status: model.AssessmentStatusDraft},
	}}
	cache := newMemCache()
	s := newTestCatalogService(repo, cache)

	if _, err := s.FetchCatalog(context.Background(), draft.AssessmentID); !errors.Is(err, ErrAssessmentNotPublished) {
		t.Errorf("draft: err = %v, want ErrAssessmentNotPublished", err)
	}
	if _, err := s.FetchCatalog(context.Background(), uuid.New()); !errors.Is(err, ErrAssessmentNotFound) {
		t.Errorf("unknown: err = %v, want ErrAssessmentNotFound", err)
	}
	if len(cache.data) != 0 {
		t.Errorf("refused catalogs were cached: %v", cache.data)
	}

	repo.err = errors.New("pool closed")
	_, err := s.FetchCatalog(context.Background(), draft.AssessmentID)
	if err == nil || errors.Is(err, ErrAssessmentNotFound) || errors.Is(err, ErrAssessmentNotPublished) {
		t.Errorf("database failure: err = %v", err)
	}
}

func TestWarmCatalogEvictsUnpublished(t *testing.T) {
	c := sampleCatalog()
	repo := &fakeCatalogRepo{catalogs: map[uuid.UUID]storedCatalog{
		c.AssessmentID: {catalog: c, status: model.AssessmentStatusPublished},
	}}
	cache := newMemCache()
	s := newTestCatalogService(repo, cache)
	ctx := context.Background()
	key := config.CacheKey.CatalogPayloadKey(c.AssessmentID.String())

	if err := s.WarmCatalog(ctx, c.AssessmentID); err != nil {
		t.Fatalf("WarmCatalog: %v", err)
	}
	if _, ok := cache.data[key]; !ok {
		t.Fatal("published catalog not warmed")
	}

	repo.catalogs[c.AssessmentID] = storedCatalog{catalog: c, status: model.AssessmentStatusDraft}
	if err := s.WarmCatalog(ctx, c.AssessmentID); err != nil {
		t.Fatalf("WarmCatalog after unpublish: %v", err)
	}
	if _, ok := cache.data[key]; ok {
		t.Error("unpublished catalog still cached")
	}
}

func TestPrewarmAllWarmsPublished(t *testing.T) {
	live, draft := sampleCatalog(), sampleCatalog()
	repo := &fakeCatalogRepo{catalogs: map[uuid.UUID]storedCatalog{
		live.AssessmentID:  {catalog: live, status: model.AssessmentStatusPublished},
		draft.AssessmentID: {catalog: draft, status: model.AssessmentStatusDraft},
	}}
	cache := newMemCache()

	if err := newTestCatalogService(repo, cache).PrewarmAll(context.Background()); err != nil {
		t.Fatalf("PrewarmAll: %v", err)
	}
	if _, ok := cache.data[config.CacheKey.CatalogPayloadKey(live.AssessmentID.String())]; !ok {
		t.Error("published catalog not prewarmed")
	}
	if _, ok := cache.data[config.CacheKey.CatalogPayloadKey(draft.AssessmentID.String())]; ok {
		t.Error("draft catalog prewarmed")
	}
}
