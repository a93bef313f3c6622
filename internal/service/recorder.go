package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

const (
	recordTimeout = 5 * time.Second
	drainTimeout  = 5 * time.Second
)

// recordOp is one Redis write performed off the session loops.
type recordOp struct {
	name string
	run  func(ctx context.Context, pipe redis.Pipeliner)
}

// QueueRecorder is the session audit sink. Session loops hand it events
// without blocking; a single goroutine writes them to Redis, where the
// persistence workers pick them up.
type QueueRecorder struct {
	rdb        *redis.Client
	ops        chan recordOp
	answersTTL time.Duration
	log        zerolog.Logger
}

// NewQueueRecorder creates a recorder buffering up to depth events.
// answersTTL bounds how long an autosave hash outlives its last write.
func NewQueueRecorder(rdb *redis.Client, depth int, answersTTL time.Duration, log zerolog.Logger) *QueueRecorder {
	if depth <= 0 {
		depth = 1024
	}
	return &QueueRecorder{
		rdb:        rdb,
		ops:        make(chan recordOp, depth),
		answersTTL: answersTTL,
		log:        log.With().Str("component", "queue_recorder").Logger(),
	}
}

// RecordAnswer autosaves a selection into the subject's answer hash and
// queues it for persistence.
func (r *QueueRecorder) RecordAnswer(id assessment.Identity, a model.Answer) {
	rec := model.AnswerRecord{
		SessionID:    id.SessionID,
		AssessmentID: id.AssessmentID,
		SubjectID:    id.SubjectID,
		QuestionID:   a.QuestionID,
		Value:        a.Value,
		SkillID:      a.SkillID,
		RecordedAt:   time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Error().Err(err).Msg("Marshal answer")
		return
	}
	key := config.CacheKey.SubjectAnswersKey(id.AssessmentID.String(), id.SubjectID)
	field := strconv.Itoa(a.QuestionID)
	value := string(a.Value)
	r.enqueue(recordOp{name: "answer", run: func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, field, value)
		if r.answersTTL > 0 {
			pipe.Expire(ctx, key, r.answersTTL)
		}
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	}})
}

// RecordViolation queues a lockdown event.
func (r *QueueRecorder) RecordViolation(v model.Violation) {
	r.push("violation", config.WorkerKey.PersistViolationsQueue, v)
}

// RecordAttempt queues a session outcome.
func (r *QueueRecorder) RecordAttempt(a model.Attempt) {
	r.push("attempt", config.WorkerKey.PersistAttemptsQueue, a)
}

func (r *QueueRecorder) push(name, queue string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Str("kind", name).Msg("Marshal record")
		return
	}
	r.enqueue(recordOp{name: name, run: func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.RPush(ctx, queue, payload)
	}})
}

func (r *QueueRecorder) enqueue(op recordOp) {
	select {
	case r.ops <- op:
	default:
		r.log.Error().Str("kind", op.name).Msg("Recorder buffer full, dropping event")
	}
}

// Start writes queued events until ctx is cancelled, then drains what is
// left.
func (r *QueueRecorder) Start(ctx context.Context) error {
	r.log.Info().Msg("QueueRecorder started")
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case op := <-r.ops:
			r.write(ctx, op)
		}
	}
}

func (r *QueueRecorder) write(ctx context.Context, op recordOp) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	pipe := r.rdb.TxPipeline()
	op.run(ctx, pipe)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error().Err(err).Str("kind", op.name).Msg("Failed to record event")
	}
}

func (r *QueueRecorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case op := <-r.ops:
			r.write(ctx, op)
			drained++
		default:
			if drained > 0 {
				r.log.Info().Int("count", drained).Msg("Drained remaining events")
			}
			return
		}
	}
}
