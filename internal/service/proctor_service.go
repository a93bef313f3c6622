package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/model"
)

// Proctoring errors.
var (
	ErrSessionActive = errors.New("subject already has a live session for this assessment")
	ErrNoLiveSession = errors.New("no live session")
)

const (
	loopDepth     = 256
	settlePoll    = 100 * time.Millisecond
	closeDeadline = 5 * time.Second
)

// releaseLock deletes the live-session lock only if this instance owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshLock extends the lock only if this instance owns it.
var refreshLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Agent is the subject's browser as seen by the engine.
type Agent interface {
	assessment.Platform
	assessment.CaptureDevice
	assessment.PreviewSink
	assessment.Observer
}

// ApplicationMarker records that a subject finished the screening for a job.
type ApplicationMarker interface {
	MarkApplied(ctx context.Context, subjectID int, jobID uuid.UUID) error
}

// ProctorDeps are the shared collaborators of every live session.
type ProctorDeps struct {
	Catalogs     assessment.CatalogSource
	Applications assessment.ApplicationChecker
	Completions  ApplicationMarker
	Grader       assessment.Grader
	Recorder     assessment.Recorder
}

type liveKey struct {
	assessmentID uuid.UUID
	subjectID    int
}

// LiveSession is one running engine instance.
type LiveSession struct {
	Session *assessment.Session
	Loop    *assessment.EventLoop

	key       liveKey
	token     string
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Post runs fn on the session loop.
func (ls *LiveSession) Post(fn func(s *assessment.Session)) {
	ls.Loop.Post(func() { fn(ls.Session) })
}

// ProctorService hosts live sessions: one per subject and assessment,
// enforced across instances with a Redis lock.
type ProctorService struct {
	deps    ProctorDeps
	rdb     *redis.Client
	opts    assessment.Options
	lockTTL time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	live map[liveKey]*LiveSession
}

// NewProctorService creates a new ProctorService.
func NewProctorService(deps ProctorDeps, rdb *redis.Client, opts assessment.Options, lockTTL time.Duration, log zerolog.Logger) *ProctorService {
	if lockTTL <= 0 {
		lockTTL = 3 * time.Hour
	}
	return &ProctorService{
		deps:    deps,
		rdb:     rdb,
		opts:    opts,
		lockTTL: lockTTL,
		log:     log.With().Str("component", "proctor_service").Logger(),
		live:    make(map[liveKey]*LiveSession),
	}
}

// Open claims the live-session lock, starts a session loop driven by agent
// and kicks off loading. The caller must Close the session.
func (s *ProctorService) Open(ctx context.Context, subjectID int, assessmentID, jobID uuid.UUID, agent Agent) (*LiveSession, error) {
	key := liveKey{assessmentID: assessmentID, subjectID: subjectID}
	lockKey := config.CacheKey.LiveSessionKey(assessmentID.String(), subjectID)
	token := uuid.NewString()

	ok, err := s.rdb.SetNX(ctx, lockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim live session: %w", err)
	}
	if !ok {
		return nil, ErrSessionActive
	}

	id := assessment.Identity{
		SessionID:    uuid.New(),
		AssessmentID: assessmentID,
		JobID:        jobID,
		SubjectID:    subjectID,
	}
	log := s.log.With().
		Str("session_id", id.SessionID.String()).
		Int("subject_id", subjectID).
		Logger()

	runCtx, cancel := context.WithCancel(context.Background())
	loop := assessment.NewEventLoop(loopDepth, log)
	session := assessment.NewSession(runCtx, id, assessment.Deps{
		Loop:         loop,
		Clock:        assessment.NewLoopClock(loop),
		Device:       agent,
		Preview:      agent,
		Platform:     agent,
		Grader:       s.deps.Grader,
		Catalogs:     s.deps.Catalogs,
		Applications: s.deps.Applications,
		Observer:     agent,
		Recorder:     s.deps.Recorder,
	}, s.opts, log)

	ls := &LiveSession{
		Session: session,
		Loop:    loop,
		key:     key,
		token:   token,
		cancel:  cancel,
	}

	s.mu.Lock()
	s.live[key] = ls
	s.mu.Unlock()

	go loop.Run(runCtx)
	go s.keepAlive(runCtx, ls, lockKey)
	loop.Post(session.Start)

	log.Info().Str("assessment_id", assessmentID.String()).Msg("Live session opened")
	return ls, nil
}

// keepAlive extends the lock while the session runs.
func (s *ProctorService) keepAlive(ctx context.Context, ls *LiveSession, lockKey string) {
	t := time.NewTicker(s.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := refreshLock.Run(ctx, s.rdb, []string{lockKey}, ls.token, s.lockTTL.Milliseconds()).Err()
			if err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Failed to refresh live session lock")
			}
		}
	}
}

// Close tears the session down. An in-flight submission is given the submit
// timeout to settle so its outcome is still recorded.
func (s *ProctorService) Close(ls *LiveSession) {
	ls.closeOnce.Do(func() { s.close(ls) })
}

func (s *ProctorService) close(ls *LiveSession) {
	ls.Loop.Call(ls.Session.Close)
	s.settle(ls)

	var (
		stage model.Stage
		id    assessment.Identity
	)
	ls.Loop.Call(func() {
		stage = ls.Session.Stage()
		id = ls.Session.ID()
	})
	ls.Loop.Stop()
	ls.cancel()

	s.mu.Lock()
	if s.live[ls.key] == ls {
		delete(s.live, ls.key)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeDeadline)
	defer cancel()

	// Marked before the lock goes so a reconnect starts ALREADY_COMPLETED.
	if err := s.markCompleted(ctx, stage, id); err != nil {
		s.log.Error().Err(err).
			Str("session_id", id.SessionID.String()).
			Msg("Failed to mark completed screening")
	}

	lockKey := config.CacheKey.LiveSessionKey(ls.key.assessmentID.String(), ls.key.subjectID)
	if err := releaseLock.Run(ctx, s.rdb, []string{lockKey}, ls.token).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release live session lock")
	}
	s.log.Info().Str("session_id", ls.Session.ID().SessionID.String()).Msg("Live session closed")
}

// markCompleted records the application of a session that finished with a
// successful submission.
func (s *ProctorService) markCompleted(ctx context.Context, stage model.Stage, id assessment.Identity) error {
	if stage != model.StageCompleted || id.JobID == uuid.Nil || s.deps.Completions == nil {
		return nil
	}
	return s.deps.Completions.MarkApplied(ctx, id.SubjectID, id.JobID)
}

func (s *ProctorService) settle(ls *LiveSession) {
	deadline := time.Now().Add(s.opts.SubmitTimeout + time.Second)
	for time.Now().Before(deadline) {
		submitting := false
		if !ls.Loop.Call(func() { submitting = ls.Session.Stage() == model.StageSubmitting }) {
			return
		}
		if !submitting {
			return
		}
		time.Sleep(settlePoll)
	}
	s.log.Warn().Msg("Submission still in flight at close")
}

// Snapshot returns the state of the subject's live session hosted by this
// instance.
func (s *ProctorService) Snapshot(subjectID int, assessmentID uuid.UUID) (model.SessionSnapshot, error) {
	s.mu.Lock()
	ls, ok := s.live[liveKey{assessmentID: assessmentID, subjectID: subjectID}]
	s.mu.Unlock()
	if !ok {
		return model.SessionSnapshot{}, ErrNoLiveSession
	}

	var snap model.SessionSnapshot
	if !ls.Loop.Call(func() { snap = ls.Session.Snapshot() }) {
		return model.SessionSnapshot{}, ErrNoLiveSession
	}
	return snap, nil
}

// Shutdown closes every live session.
func (s *ProctorService) Shutdown() {
	s.mu.Lock()
	sessions := make([]*LiveSession, 0, len(s.live))
	for _, ls := range s.live {
		sessions = append(sessions, ls)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ls := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close(ls)
		}()
	}
	wg.Wait()
}

// LiveCount returns the number of sessions hosted by this instance.
func (s *ProctorService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
