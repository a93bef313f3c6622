package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

// AnswerWorker consumes persist_answers_queue and UPSERTs autosaved answers
// into assessment_answers.
type AnswerWorker struct {
	pool *pgxpool.Pool
	b    *batcher[model.AnswerRecord]
	log  zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, opts BatchOptions, log zerolog.Logger) *AnswerWorker {
	w := &AnswerWorker{
		pool: pool,
		log:  log.With().Str("component", "answer_worker").Logger(),
	}
	w.b = newBatcher(config.WorkerKey.PersistAnswersQueue, rdb, opts, w.flush, w.log)
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *AnswerWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("AnswerWorker started")
	w.b.run(ctx)
	return nil
}

func (w *AnswerWorker) flush(ctx context.Context, batch []model.AnswerRecord) []model.AnswerRecord {
	batch = latestAnswers(batch)
	err := w.bulkUpsert(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk answer upsert failed, using fallback")

	var failed []model.AnswerRecord
	for _, a := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO assessment_answers (session_id, question_id, assessment_id, subject_id, skill_id, value, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
			 WHERE assessment_answers.updated_at <= EXCLUDED.updated_at`,
			a.SessionID, a.QuestionID, a.AssessmentID, a.SubjectID, a.SkillID, string(a.Value), a.RecordedAt,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", a.SessionID.String()).Msg("Persist error, requeueing")
			failed = append(failed, a)
		}
	}
	return failed
}

// bulkUpsert writes the batch with one UNNEST statement.
func (w *AnswerWorker) bulkUpsert(ctx context.Context, batch []model.AnswerRecord) error {
	n := len(batch)
	sessions := make([]uuid.UUID, 0, n)
	questions := make([]int, 0, n)
	assessments := make([]uuid.UUID, 0, n)
	subjects := make([]int, 0, n)
	skills := make([]int, 0, n)
	values := make([]string, 0, n)
	times := make([]time.Time, 0, n)

	for _, a := range batch {
		sessions = append(sessions, a.SessionID)
		questions = append(questions, a.QuestionID)
		assessments = append(assessments, a.AssessmentID)
		subjects = append(subjects, a.SubjectID)
		skills = append(skills, a.SkillID)
		values = append(values, string(a.Value))
		times = append(times, a.RecordedAt)
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO assessment_answers (session_id, question_id, assessment_id, subject_id, skill_id, value, updated_at)
		SELECT u.session_id, u.question_id, u.assessment_id, u.subject_id, u.skill_id, NULLIF(u.value, ''), u.updated_at
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::uuid[],
			$4::int[],
			$5::int[],
			$6::text[],
			$7::timestamptz[]
		) AS u (session_id, question_id, assessment_id, subject_id, skill_id, value, updated_at)
		ON CONFLICT (session_id, question_id) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		WHERE assessment_answers.updated_at <= EXCLUDED.updated_at`,
		sessions, questions, assessments, subjects, skills, values, times)
	return err
}

// latestAnswers keeps only the newest record per (session, question). One
// INSERT ... ON CONFLICT statement cannot touch the same row twice.
func latestAnswers(batch []model.AnswerRecord) []model.AnswerRecord {
	type key struct {
		session  uuid.UUID
		question int
	}
	pos := make(map[key]int, len(batch))
	out := make([]model.AnswerRecord, 0, len(batch))
	for _, a := range batch {
		k := key{a.SessionID, a.QuestionID}
		if i, ok := pos[k]; ok {
			if !a.RecordedAt.Before(out[i].RecordedAt) {
				out[i] = a
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, a)
	}
	return out
}
