package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

var violationColumns = []string{
	"session_id", "assessment_id", "subject_id", "kind", "detail", "warning_count", "recorded_at",
}

// ViolationWorker consumes persist_violations_queue and bulk-copies lockdown
// events into proctor_violations.
type ViolationWorker struct {
	pool *pgxpool.Pool
	b    *batcher[model.Violation]
	log  zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, opts BatchOptions, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{
		pool: pool,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
	w.b = newBatcher(config.WorkerKey.PersistViolationsQueue, rdb, opts, w.flush, w.log)
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *ViolationWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("ViolationWorker started")
	w.b.run(ctx)
	return nil
}

// flush attempts a COPY, then falls back to row-by-row inserts. Rows that
// fail individually are handed back for requeue.
func (w *ViolationWorker) flush(ctx context.Context, batch []model.Violation) []model.Violation {
	err := w.bulkInsert(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.Violation
	for _, v := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO proctor_violations (session_id, assessment_id, subject_id, kind, detail, warning_count, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			violationRow(v)...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", v.SessionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	return failed
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.Violation) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, violationRow(v))
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_violations"},
		violationColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

func violationRow(v model.Violation) []interface{} {
	return []interface{}{
		v.SessionID, v.AssessmentID, v.SubjectID, string(v.Kind), v.Detail, v.WarningCount, v.RecordedAt,
	}
}
