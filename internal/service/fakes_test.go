package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-screening/internal/model"
)

// memCache is an in-memory stand-in for the Redis commands the services use.
type memCache struct {
	data   map[string]string
	ttl    map[string]time.Duration
	getErr error
	setErr error
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) *redis.StringCmd {
	if c.getErr != nil {
		return redis.NewStringResult("", c.getErr)
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if c.setErr != nil {
		return redis.NewStatusResult("", c.setErr)
	}
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	default:
		c.data[key] = fmt.Sprint(v)
	}
	c.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (c *memCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (c *memCache) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type storedCatalog struct {
	catalog *model.Catalog
	status  model.AssessmentStatus
}

type fakeCatalogRepo struct {
	catalogs map[uuid.UUID]storedCatalog
	err      error
	loads    int
}

func (r *fakeCatalogRepo) GetCatalog(_ context.Context, id uuid.UUID) (*model.Catalog, model.AssessmentStatus, error) {
	r.loads++
	if r.err != nil {
		return nil, "", r.err
	}
	sc, ok := r.catalogs[id]
	if !ok {
		return nil, "", pgx.ErrNoRows
	}
	return sc.catalog, sc.status, nil
}

func (r *fakeCatalogRepo) ListPublishedIDs(context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, sc := range r.catalogs {
		if sc.status == model.AssessmentStatusPublished {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type applicationKey struct {
	job     uuid.UUID
	subject int
}

type fakeApplicationRepo struct {
	rows      map[applicationKey]model.ApplicationStatus
	lookups   int
	upsertErr error
}

func (r *fakeApplicationRepo) Exists(_ context.Context, jobID uuid.UUID, subjectID int) (bool, error) {
	r.lookups++
	_, ok := r.rows[applicationKey{jobID, subjectID}]
	return ok, nil
}

func (r *fakeApplicationRepo) Upsert(_ context.Context, jobID uuid.UUID, subjectID int, status model.ApplicationStatus) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	k := applicationKey{jobID, subjectID}
	if _, ok := r.rows[k]; !ok {
		r.rows[k] = status
	}
	return nil
}

func sampleCatalog() *model.Catalog {
	return &model.Catalog{
		AssessmentID: uuid.New(),
		JobID:        uuid.New(),
		Title:        "Backend screening",
		TimeBudget:   10,
		Skills: []model.Skill{{
			ID:   1,
			Name: "Go",
			Questions: []model.Question{
				{ID: 1, Prompt: "defer?", Options: []string{"a", "b"}, SkillID: 1},
			},
		}},
	}
}
