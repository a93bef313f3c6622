package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/model"
)

// ErrEmptyCatalog is returned when an assessment has no questions.
var ErrEmptyCatalog = errors.New("assessment has no questions")

// CatalogSource fetches the question catalog of an assessment.
type CatalogSource interface {
	FetchCatalog(ctx context.Context, assessmentID uuid.UUID) (*model.Catalog, error)
}

// ApplicationChecker reports whether the subject already applied to the job
// the assessment screens for.
type ApplicationChecker interface {
	HasApplied(ctx context.Context, subjectID int, jobID uuid.UUID) (bool, error)
}

// Identity names one session.
type Identity struct {
	SessionID    uuid.UUID
	AssessmentID uuid.UUID
	JobID        uuid.UUID
	SubjectID    int
}

// Options tunes the engine.
type Options struct {
	WarningThreshold     int
	FullscreenRetryDelay time.Duration
	TickInterval         time.Duration
	CameraTimeout        time.Duration
	SubmitTimeout        time.Duration
	LoadTimeout          time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		WarningThreshold:     3,
		FullscreenRetryDelay: time.Second,
		TickInterval:         time.Second,
		CameraTimeout:        2 * time.Minute,
		SubmitTimeout:        30 * time.Second,
		LoadTimeout:          10 * time.Second,
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	Loop         Loop
	Clock        Clock
	Device       CaptureDevice
	Preview      PreviewSink
	Platform     Platform
	Grader       Grader
	Catalogs     CatalogSource
	Applications ApplicationChecker
	Observer     Observer
	Recorder     Recorder
}

var transitions = map[model.Stage][]model.Stage{
	model.StageInitializing: {model.StageInProgress, model.StageAlreadyCompleted},
	model.StageInProgress:   {model.StageSubmitting},
	model.StageSubmitting:   {model.StageCompleted, model.StageInProgress, model.StageUpgradeRequired},
}

// Session is the aggregate root of one proctored assessment. Every method
// must be called on the session's loop.
type Session struct {
	id   Identity
	opts Options
	log  zerolog.Logger

	loop         Loop
	catalogs     CatalogSource
	applications ApplicationChecker
	observer     Observer
	recorder     Recorder

	ctx    context.Context
	cancel context.CancelFunc

	stage            model.Stage
	priorApplication bool
	initialized      bool
	starting         bool
	closed           bool

	questions QuestionModel
	answers   map[int]model.Letter
	index     int

	timer      *Countdown
	media      *MediaCapture
	lockdown   *LockdownMonitor
	submission *SubmissionController
}

// NewSession wires a session in the INITIALIZING stage. Nothing happens
// until Start is called.
func NewSession(ctx context.Context, id Identity, deps Deps, opts Options, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:           id,
		opts:         opts,
		loop:         deps.Loop,
		catalogs:     deps.Catalogs,
		applications: deps.Applications,
		observer:     deps.Observer,
		recorder:     deps.Recorder,
		ctx:          ctx,
		cancel:       cancel,
		stage:        model.StageInitializing,
		answers:      make(map[int]model.Letter),
		log: log.With().
			Str("session_id", id.SessionID.String()).
			Str("assessment_id", id.AssessmentID.String()).
			Int("subject_id", id.SubjectID).
			Logger(),
	}

	s.timer = NewCountdown(deps.Clock, opts.TickInterval,
		func() bool { return s.priorApplication },
		func(remaining int) { s.observer.Tick(remaining) },
		func() { s.submission.Submit(model.TriggerTimeExpired) },
	)
	s.media = NewMediaCapture(deps.Loop, deps.Device, deps.Preview, opts.CameraTimeout, s.log)
	s.lockdown = NewLockdownMonitor(deps.Platform, deps.Clock, opts.FullscreenRetryDelay, opts.WarningThreshold, LockdownHooks{
		Active:   s.environmentLive,
		Notify:   s.observer.Notify,
		Record:   s.recordViolation,
		Escalate: func() { s.submission.Submit(model.TriggerLockdownViolation) },
	}, s.log)
	s.submission = newSubmissionController(s, deps.Grader, opts.SubmitTimeout)
	return s
}

// ID returns the session identity.
func (s *Session) ID() Identity { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() model.Stage { return s.stage }

// Questions returns the flattened question list.
func (s *Session) Questions() []model.Question { return s.questions.Questions }

// Start loads the catalog, checks for a prior application and acquires the
// camera. On success the session enters IN_PROGRESS. A failed camera
// acquisition leaves the session INITIALIZING so Start can be called again.
func (s *Session) Start() {
	if s.closed || s.starting || s.stage != model.StageInitializing {
		return
	}
	s.starting = true
	if s.initialized {
		s.acquireAndEnter()
		return
	}

	var (
		catalog *model.Catalog
		applied bool
		err     error
	)
	ctx := s.ctx
	s.loop.Await(func() {
		loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
		defer cancel()

		catalog, err = s.catalogs.FetchCatalog(loadCtx, s.id.AssessmentID)
		if err != nil {
			err = fmt.Errorf("fetch catalog: %w", err)
			return
		}
		jobID := catalog.JobID
		if jobID == uuid.Nil {
			jobID = s.id.JobID
		}
		applied, err = s.applications.HasApplied(loadCtx, s.id.SubjectID, jobID)
		if err != nil {
			err = fmt.Errorf("check application: %w", err)
		}
	}, func() {
		s.loaded(catalog, applied, err)
	})
}

func (s *Session) loaded(catalog *model.Catalog, applied bool, err error) {
	if s.closed {
		return
	}
	if err == nil && !applied && catalog.QuestionCount() == 0 {
		err = ErrEmptyCatalog
	}
	if err != nil {
		s.starting = false
		s.log.Error().Err(err).Msg("Failed to load assessment")
		n := newNotice(NoticeLoadFailed)
		n.Retryable = true
		s.observer.Notify(n)
		return
	}

	if applied {
		s.starting = false
		s.priorApplication = true
		_ = s.transition(model.StageAlreadyCompleted)
		s.teardown()
		s.observer.Notify(newNotice(NoticeAlreadyCompleted))
		s.publish()
		return
	}

	s.initialize(catalog)
	s.acquireAndEnter()
}

// initialize builds the question model and seeds the countdown. It runs
// once per loaded catalog.
func (s *Session) initialize(catalog *model.Catalog) {
	if s.initialized {
		return
	}
	s.questions = BuildQuestionModel(catalog)
	for _, q := range s.questions.Questions {
		s.answers[q.ID] = ""
	}
	if catalog.JobID != uuid.Nil {
		if s.id.JobID != uuid.Nil && s.id.JobID != catalog.JobID {
			s.log.Warn().
				Str("requested_job_id", s.id.JobID.String()).
				Str("job_id", catalog.JobID.String()).
				Msg("Requested job does not match the assessment, using the assessment's job")
		}
		s.id.JobID = catalog.JobID
	}
	s.timer.Seed(SeedSeconds(catalog.TimeBudget))
	s.initialized = true

	s.log.Info().
		Int("questions", s.questions.Len()).
		Int("time_budget", catalog.TimeBudget).
		Int("seconds", s.timer.Remaining()).
		Msg("Assessment loaded")
	s.observer.QuestionsLoaded(s.questions.Questions)
}

func (s *Session) acquireAndEnter() {
	s.media.Acquire(s.ctx, func(err error) {
		s.starting = false
		if s.closed || s.stage != model.StageInitializing {
			return
		}
		if err != nil {
			n := newNotice(NoticeDeviceError)
			n.Retryable = true
			s.observer.Notify(n)
			s.publish()
			return
		}
		s.enterInProgress()
	})
}

func (s *Session) enterInProgress() {
	if err := s.transition(model.StageInProgress); err != nil {
		return
	}
	s.timer.Start()
	s.lockdown.Attach()
	s.publish()
}

// SelectAnswer records the subject's choice for a question. Choices may be
// overwritten until a submission attempt starts.
func (s *Session) SelectAnswer(questionID int, value model.Letter) error {
	if s.stage != model.StageInProgress {
		return ErrNotInProgress
	}
	if s.submission.Guarded() {
		return ErrSubmissionStarted
	}
	q, ok := s.questions.Find(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if i := value.Index(); i < 0 || i >= len(q.Options) {
		return ErrInvalidChoice
	}
	s.answers[questionID] = value
	if s.recorder != nil {
		s.recorder.RecordAnswer(s.id, model.Answer{
			QuestionID: questionID,
			Value:      value,
			SkillID:    s.questions.SkillOf[questionID],
		})
	}
	s.publish()
	return nil
}

// GoToNext moves to the next question. It reports whether the index changed.
func (s *Session) GoToNext() bool {
	return s.GoTo(s.index + 1)
}

// GoToPrevious moves to the previous question.
func (s *Session) GoToPrevious() bool {
	return s.GoTo(s.index - 1)
}

// GoTo jumps to the question at index.
func (s *Session) GoTo(index int) bool {
	if s.stage != model.StageInProgress || index < 0 || index >= s.questions.Len() || index == s.index {
		return false
	}
	s.index = index
	s.publish()
	return true
}

// Submit runs the submission controller for the given trigger.
func (s *Session) Submit(trigger model.Trigger) bool {
	return s.submission.Submit(trigger)
}

// ResolveConfirmation answers a pending incomplete-answers confirmation.
func (s *Session) ResolveConfirmation(proceed bool) bool {
	return s.submission.ResolveConfirmation(proceed)
}

// Retry re-sends the last answers after a recoverable failure with no time
// left.
func (s *Session) Retry() bool {
	return s.submission.Retry()
}

// Close tears the session down. It is the abnormal-unmount path: the timer is
// cleared, the camera released and every lockdown listener removed. An
// in-flight submission is allowed to finish and is still recorded.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.teardown()
	if s.stage == model.StageInProgress {
		s.log.Warn().Msg("Session closed while in progress")
		s.recordAttempt("")
	}
	s.cancel()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

// Snapshot returns the read model of the session.
func (s *Session) Snapshot() model.SessionSnapshot {
	answers := make(map[int]model.Letter, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return model.SessionSnapshot{
		SessionID:            s.id.SessionID,
		AssessmentID:         s.id.AssessmentID,
		SubjectID:            s.id.SubjectID,
		Stage:                s.stage,
		CurrentQuestionIndex: s.index,
		QuestionCount:        s.questions.Len(),
		RemainingSeconds:     s.timer.Remaining(),
		AnswersByQuestionID:  answers,
		WarningCount:         s.lockdown.WarningCount(),
		WarningThreshold:     s.lockdown.Threshold(),
		IsFullscreen:         s.lockdown.IsFullscreen(),
		AwaitingConfirmation: s.submission.AwaitingConfirmation(),
	}
}

func (s *Session) transition(to model.Stage) error {
	for _, allowed := range transitions[s.stage] {
		if allowed == to {
			s.log.Info().Str("from", string(s.stage)).Str("to", string(to)).Msg("Stage changed")
			s.stage = to
			return nil
		}
	}
	s.log.Error().Str("from", string(s.stage)).Str("to", string(to)).Msg("Rejected stage transition")
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.stage, to)
}

func (s *Session) teardown() {
	s.timer.Stop()
	s.lockdown.Detach()
	s.media.Release()
}

// environmentLive reports whether the lockdown should act on events. The
// lockdown stays attached while a submission is in flight so late
// violations are still recorded; escalation is a no-op then because of the
// submission guard.
func (s *Session) environmentLive() bool {
	return !s.closed && (s.stage == model.StageInProgress || s.stage == model.StageSubmitting)
}

func (s *Session) buildAnswers() []model.Answer {
	out := make([]model.Answer, 0, s.questions.Len())
	for _, q := range s.questions.Questions {
		out = append(out, model.Answer{
			QuestionID: q.ID,
			Value:      s.answers[q.ID],
			SkillID:    s.questions.SkillOf[q.ID],
		})
	}
	return out
}

func (s *Session) publish() {
	s.observer.StateChanged(s.Snapshot())
}

func (s *Session) recordViolation(kind model.ViolationKind, detail string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordViolation(model.Violation{
		SessionID:    s.id.SessionID,
		AssessmentID: s.id.AssessmentID,
		SubjectID:    s.id.SubjectID,
		Kind:         kind,
		Detail:       detail,
		WarningCount: s.lockdown.WarningCount(),
		RecordedAt:   time.Now(),
	})
}

func (s *Session) recordAttempt(trigger model.Trigger) {
	if s.recorder == nil {
		return
	}
	answers := s.buildAnswers()
	s.recorder.RecordAttempt(model.Attempt{
		SessionID:     s.id.SessionID,
		AssessmentID:  s.id.AssessmentID,
		JobID:         s.id.JobID,
		SubjectID:     s.id.SubjectID,
		Stage:         s.stage,
		Trigger:       trigger,
		WarningCount:  s.lockdown.WarningCount(),
		AnsweredCount: len(answers) - countAbsent(answers),
		QuestionCount: len(answers),
		FinishedAt:    time.Now(),
	})
}
