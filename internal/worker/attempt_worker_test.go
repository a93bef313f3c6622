package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/model"
)

// scriptedDB records statements and fails those containing a marker.
type scriptedDB struct {
	mu       sync.Mutex
	stmts    []string
	failOn   string
	failLeft int
}

func (d *scriptedDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stmts = append(d.stmts, sql)
	if d.failOn != "" && d.failLeft > 0 && strings.Contains(sql, d.failOn) {
		d.failLeft--
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	return pgconn.CommandTag{}, nil
}

func (d *scriptedDB) count(marker string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.stmts {
		if strings.Contains(s, marker) {
			n++
		}
	}
	return n
}

// attemptQueue adds Del to memQueue.
type attemptQueue struct {
	memQueue
	deleted []string
}

func (q *attemptQueue) Del(_ context.Context, keys ...string) *redis.IntCmd {
	q.deleted = append(q.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func newTestAttemptWorker(db *scriptedDB, q *attemptQueue) *AttemptWorker {
	return &AttemptWorker{pool: db, rdb: q, log: zerolog.New(io.Discard)}
}

func attempt(stage model.Stage) model.Attempt {
	return model.Attempt{
		SessionID:    uuid.New(),
		AssessmentID: uuid.New(),
		JobID:        uuid.New(),
		SubjectID:    7,
		Stage:        stage,
		FinishedAt:   time.Now(),
	}
}

func TestAttemptFlushMarksCompletedApplications(t *testing.T) {
	db := &scriptedDB{}
	q := &attemptQueue{}
	w := newTestAttemptWorker(db, q)

	batch := []model.Attempt{attempt(model.StageCompleted), attempt(model.StageInProgress)}
	if failed := w.flush(context.Background(), batch); len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if db.count("INSERT INTO applications") != 1 {
		t.Errorf("applications statements = %d, want 1", db.count("INSERT INTO applications"))
	}
	if len(q.deleted) != 1 {
		t.Errorf("deleted answer hashes = %v, want the completed session only", q.deleted)
	}
}

func TestAttemptFlushRequeuesWhenMarkingFails(t *testing.T) {
	db := &scriptedDB{failOn: "INSERT INTO applications", failLeft: 1}
	w := newTestAttemptWorker(db, &attemptQueue{})

	done := attempt(model.StageCompleted)
	batch := []model.Attempt{done, attempt(model.StageInProgress)}

	failed := w.flush(context.Background(), batch)
	if len(failed) != 1 || failed[0].SessionID != done.SessionID {
		t.Fatalf("failed = %v, want the completed attempt", failed)
	}

	// The requeued attempt succeeds on its next pass.
	if failed := w.flush(context.Background(), failed); len(failed) != 0 {
		t.Fatalf("second pass failed = %v", failed)
	}
	if db.count("INSERT INTO applications") != 2 {
		t.Errorf("applications statements = %d, want 2", db.count("INSERT INTO applications"))
	}
}

func TestAttemptFallbackReportsMarkingFailure(t *testing.T) {
	// The bulk upsert fails, then the single-row upsert succeeds and the
	// applications write fails.
	db := &scriptedDB{failOn: "UNNEST", failLeft: 2}
	w := newTestAttemptWorker(db, &attemptQueue{})

	done := attempt(model.StageCompleted)
	failed := w.flush(context.Background(), []model.Attempt{done})
	if len(failed) != 1 || failed[0].SessionID != done.SessionID {
		t.Fatalf("failed = %v, want the completed attempt", failed)
	}
}
