package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

// execer is the part of pgxpool the attempt worker uses.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// attemptRedis is the part of Redis the attempt worker uses.
type attemptRedis interface {
	queueClient
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AttemptWorker consumes persist_attempts_queue, UPSERTs session outcomes
// into assessment_attempts and marks completed screenings on the
// application mirror.
type AttemptWorker struct {
	pool execer
	rdb  attemptRedis
	b    *batcher[model.Attempt]
	log  zerolog.Logger
}

// NewAttemptWorker creates a new AttemptWorker.
func NewAttemptWorker(pool *pgxpool.Pool, rdb *redis.Client, opts BatchOptions, log zerolog.Logger) *AttemptWorker {
	w := &AttemptWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "attempt_worker").Logger(),
	}
	w.b = newBatcher(config.WorkerKey.PersistAttemptsQueue, rdb, opts, w.flush, w.log)
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *AttemptWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("AttemptWorker started")
	w.b.run(ctx)
	return nil
}

func (w *AttemptWorker) flush(ctx context.Context, batch []model.Attempt) []model.Attempt {
	if err := w.bulkUpsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk attempt upsert failed, using fallback")

		var failed []model.Attempt
		for _, a := range batch {
			if err := w.persistSingle(ctx, a); err != nil {
				w.log.Error().Err(err).Str("session_id", a.SessionID.String()).Msg("persistSingle failed, requeueing")
				failed = append(failed, a)
			}
		}
		return failed
	}

	w.clearAutosavedAnswers(ctx, batch)
	if err := w.markApplied(ctx, batch); err != nil {
		completed := completedWithJob(batch)
		w.log.Error().Err(err).Int("count", len(completed)).Msg("Failed to mark completed screenings, requeueing")
		return completed
	}
	return nil
}

// bulkUpsert writes the batch with one UNNEST statement. A later outcome of
// the same session replaces the earlier one.
func (w *AttemptWorker) bulkUpsert(ctx context.Context, batch []model.Attempt) error {
	batch = latestAttempts(batch)
	n := len(batch)

	sessions := make([]uuid.UUID, 0, n)
	assessments := make([]uuid.UUID, 0, n)
	jobs := make([]uuid.UUID, 0, n)
	subjects := make([]int, 0, n)
	stages := make([]string, 0, n)
	triggers := make([]string, 0, n)
	warnings := make([]int, 0, n)
	answered := make([]int, 0, n)
	totals := make([]int, 0, n)
	finished := make([]time.Time, 0, n)

	for _, a := range batch {
		sessions = append(sessions, a.SessionID)
		assessments = append(assessments, a.AssessmentID)
		jobs = append(jobs, a.JobID)
		subjects = append(subjects, a.SubjectID)
		stages = append(stages, string(a.Stage))
		triggers = append(triggers, string(a.Trigger))
		warnings = append(warnings, a.WarningCount)
		answered = append(answered, a.AnsweredCount)
		totals = append(totals, a.QuestionCount)
		finished = append(finished, a.FinishedAt)
	}

	query := `
		INSERT INTO assessment_attempts (
			session_id, assessment_id, job_id, subject_id, stage, trigger,
			warning_count, answered_count, question_count, finished_at
		)
		SELECT * FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::uuid[],
			$4::int[],
			$5::text[],
			$6::text[],
			$7::int[],
			$8::int[],
			$9::int[],
			$10::timestamptz[]
		)
		ON CONFLICT (session_id) DO UPDATE
		SET stage = EXCLUDED.stage,
		    trigger = EXCLUDED.trigger,
		    warning_count = EXCLUDED.warning_count,
		    answered_count = EXCLUDED.answered_count,
		    finished_at = EXCLUDED.finished_at
		WHERE assessment_attempts.finished_at <= EXCLUDED.finished_at
	`

	_, err := w.pool.Exec(ctx, query,
		sessions, assessments, jobs, subjects, stages, triggers, warnings, answered, totals, finished)
	return err
}

func (w *AttemptWorker) persistSingle(ctx context.Context, a model.Attempt) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO assessment_attempts (
			session_id, assessment_id, job_id, subject_id, stage, trigger,
			warning_count, answered_count, question_count, finished_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE
		 SET stage = EXCLUDED.stage,
		     trigger = EXCLUDED.trigger,
		     warning_count = EXCLUDED.warning_count,
		     answered_count = EXCLUDED.answered_count,
		     finished_at = EXCLUDED.finished_at
		 WHERE assessment_attempts.finished_at <= EXCLUDED.finished_at`,
		a.SessionID, a.AssessmentID, a.JobID, a.SubjectID, string(a.Stage), string(a.Trigger),
		a.WarningCount, a.AnsweredCount, a.QuestionCount, a.FinishedAt,
	)
	if err != nil {
		return err
	}
	return w.markApplied(ctx, []model.Attempt{a})
}

// markApplied records completed screenings on the application mirror so a
// later session for the same job starts ALREADY_COMPLETED.
func (w *AttemptWorker) markApplied(ctx context.Context, batch []model.Attempt) error {
	completed := completedWithJob(batch)
	if len(completed) == 0 {
		return nil
	}
	jobs := make([]uuid.UUID, 0, len(completed))
	subjects := make([]int, 0, len(completed))
	for _, a := range completed {
		jobs = append(jobs, a.JobID)
		subjects = append(subjects, a.SubjectID)
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO applications (job_id, subject_id, status)
		SELECT u.job_id, u.subject_id, $3
		FROM UNNEST($1::uuid[], $2::int[]) AS u (job_id, subject_id)
		ON CONFLICT (job_id, subject_id) DO NOTHING`,
		jobs, subjects, string(model.ApplicationStatusPending))
	return err
}

func completedWithJob(batch []model.Attempt) []model.Attempt {
	var out []model.Attempt
	for _, a := range batch {
		if a.Stage == model.StageCompleted && a.JobID != uuid.Nil {
			out = append(out, a)
		}
	}
	return out
}

// clearAutosavedAnswers drops the Redis answer hashes of finished sessions.
// The persisted copy lives in assessment_answers.
func (w *AttemptWorker) clearAutosavedAnswers(ctx context.Context, batch []model.Attempt) {
	var keys []string
	for _, a := range batch {
		if !a.Stage.Terminal() {
			continue
		}
		keys = append(keys, config.CacheKey.SubjectAnswersKey(a.AssessmentID.String(), a.SubjectID))
	}
	if len(keys) == 0 {
		return
	}
	if err := w.rdb.Del(ctx, keys...).Err(); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear autosaved answers")
	}
}

// latestAttempts keeps only the newest outcome per session.
func latestAttempts(batch []model.Attempt) []model.Attempt {
	pos := make(map[uuid.UUID]int, len(batch))
	out := make([]model.Attempt, 0, len(batch))
	for _, a := range batch {
		if i, ok := pos[a.SessionID]; ok {
			if !a.FinishedAt.Before(out[i].FinishedAt) {
				out[i] = a
			}
			continue
		}
		pos[a.SessionID] = len(out)
		out = append(out, a)
	}
	return out
}
