package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

func newTestApplicationService(repo *fakeApplicationRepo, cache *memCache) *ApplicationService {
	return &ApplicationService{repo: repo, rdb: cache, log: zerolog.Nop()}
}

func TestHasAppliedCachesPositiveAnswers(t *testing.T) {
	job := uuid.New()
	repo := &fakeApplicationRepo{rows: map[applicationKey]model.ApplicationStatus{
		{job, 5}: model.ApplicationStatusSubmitted,
	}}
	cache := newMemCache()
	s := newTestApplicationService(repo, cache)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		applied, err := s.HasApplied(ctx, 5, job)
		if err != nil || !applied {
			t.Fatalf("HasApplied = %v, %v", applied, err)
		}
	}
	if repo.lookups != 1 {
		t.Errorf("repository lookups = %d, want 1", repo.lookups)
	}

	for i := 0; i < 2; i++ {
		if applied, _ := s.HasApplied(ctx, 6, job); applied {
			t.Fatal("subject 6 reported as applied")
		}
	}
	if repo.lookups != 3 {
		t.Errorf("negative answers were cached: lookups = %d", repo.lookups)
	}
}

func TestMarkAppliedIsVisibleImmediately(t *testing.T) {
	job := uuid.New()
	repo := &fakeApplicationRepo{rows: map[applicationKey]model.ApplicationStatus{}}
	cache := newMemCache()
	s := newTestApplicationService(repo, cache)
	ctx := context.Background()

	if err := s.MarkApplied(ctx, 9, job); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if repo.rows[applicationKey{job, 9}] != model.ApplicationStatusPending {
		t.Errorf("row = %q, want PENDING", repo.rows[applicationKey{job, 9}])
	}
	if cache.ttl[config.CacheKey.SubjectAppliedKey(job.String(), 9)] != appliedTTL {
		t.Error("applied key not cached with its TTL")
	}

	applied, err := s.HasApplied(ctx, 9, job)
	if err != nil || !applied {
		t.Fatalf("HasApplied after MarkApplied = %v, %v", applied, err)
	}
	if repo.lookups != 0 {
		t.Errorf("lookup hit the database %d times", repo.lookups)
	}
}

func TestMarkAppliedKeepsExistingStatus(t *testing.T) {
	job := uuid.New()
	repo := &fakeApplicationRepo{rows: map[applicationKey]model.ApplicationStatus{
		{job, 9}: model.ApplicationStatusSubmitted,
	}}
	if err := newTestApplicationService(repo, newMemCache()).MarkApplied(context.Background(), 9, job); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if repo.rows[applicationKey{job, 9}] != model.ApplicationStatusSubmitted {
		t.Errorf("status overwritten: %q", repo.rows[applicationKey{job, 9}])
	}
}

func TestMarkAppliedSurvivesCacheOutage(t *testing.T) {
	job := uuid.New()
	repo := &fakeApplicationRepo{rows: map[applicationKey]model.ApplicationStatus{}}
	cache := newMemCache()
	cache.setErr = errors.New("redis down")

	if err := newTestApplicationService(repo, cache).MarkApplied(context.Background(), 3, job); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	if _, ok := repo.rows[applicationKey{job, 3}]; !ok {
		t.Error("database row not written")
	}

	repo.upsertErr = errors.New("pool closed")
	if err := newTestApplicationService(repo, newMemCache()).MarkApplied(context.Background(), 4, job); err == nil {
		t.Error("database failure not reported")
	}
}

type markCall struct {
	subject int
	job     uuid.UUID
}

type recordingMarker struct{ calls []markCall }

func (m *recordingMarker) MarkApplied(_ context.Context, subjectID int, jobID uuid.UUID) error {
	m.calls = append(m.calls, markCall{subjectID, jobID})
	return nil
}

func TestMarkCompletedOnlyForCompletedSessions(t *testing.T) {
	job := uuid.New()
	tests := []struct {
		name  string
		stage model.Stage
		job   uuid.UUID
		want  int
	}{
		{name: "completed", stage: model.StageCompleted, job: job, want: 1},
		{name: "abandoned", stage: model.StageInProgress, job: job, want: 0},
		{name: "already completed", stage: model.StageAlreadyCompleted, job: job, want: 0},
		{name: "upgrade required", stage: model.StageUpgradeRequired, job: job, want: 0},
		{name: "no job", stage: model.StageCompleted, job: uuid.Nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marker := &recordingMarker{}
			s := &ProctorService{deps: ProctorDeps{Completions: marker}, log: zerolog.Nop()}
			id := assessment.Identity{SessionID: uuid.New(), JobID: tt.job, SubjectID: 11}

			if err := s.markCompleted(context.Background(), tt.stage, id); err != nil {
				t.Fatalf("markCompleted: %v", err)
			}
			if len(marker.calls) != tt.want {
				t.Fatalf("calls = %v, want %d", marker.calls, tt.want)
			}
			if tt.want == 1 && marker.calls[0] != (markCall{11, job}) {
				t.Errorf("call = %+v", marker.calls[0])
			}
		})
	}
}
