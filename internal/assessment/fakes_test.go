package assessment

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/model"
)

// manualLoop runs everything on the test goroutine. Awaited I/O stays
// pending until the test completes it, which makes "while the submission is
// in flight" reproducible.
type manualLoop struct {
	posted []func()
	awaits []pendingAwait
}

type pendingAwait struct {
	io   func()
	done func()
}

func (l *manualLoop) Post(fn func()) { l.posted = append(l.posted, fn) }

func (l *manualLoop) Await(io func(), done func()) {
	l.awaits = append(l.awaits, pendingAwait{io: io, done: done})
}

// step completes the oldest pending await. It reports whether one ran.
func (l *manualLoop) step() bool {
	if len(l.awaits) == 0 {
		return false
	}
	a := l.awaits[0]
	l.awaits = l.awaits[1:]
	a.io()
	a.done()
	return true
}

// flush runs posted closures and pending awaits until nothing is left.
func (l *manualLoop) flush() {
	for len(l.posted) > 0 || len(l.awaits) > 0 {
		if len(l.posted) > 0 {
			fn := l.posted[0]
			l.posted = l.posted[1:]
			fn()
			continue
		}
		l.step()
	}
}

type fakeTimer struct {
	at        time.Duration
	every     time.Duration
	fn        func()
	cancelled bool
}

// fakeClock fires callbacks synchronously as virtual time advances.
type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) schedule(at, every time.Duration, fn func()) Cancel {
	t := &fakeTimer{at: at, every: every, fn: fn}
	c.timers = append(c.timers, t)
	return func() { t.cancelled = true }
}

func (c *fakeClock) Every(interval time.Duration, fn func()) Cancel {
	return c.schedule(c.now+interval, interval, fn)
}

func (c *fakeClock) AfterFunc(delay time.Duration, fn func()) Cancel {
	return c.schedule(c.now+delay, 0, fn)
}

func (c *fakeClock) Advance(d time.Duration) {
	end := c.now + d
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.cancelled || t.at > end {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.at
		if next.every > 0 {
			next.at += next.every
		} else {
			next.cancelled = true
		}
		next.fn()
	}
	c.now = end
}

func (c *fakeClock) active() int {
	n := 0
	for _, t := range c.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	id      string
	stopped bool
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Stop()      { t.stopped = true }

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

type fakeDevice struct {
	err         error
	constraints []Constraints
	streams     []*fakeStream
}

func (d *fakeDevice) Open(_ context.Context, c Constraints) (Stream, error) {
	d.constraints = append(d.constraints, c)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{
		id:     fmt.Sprintf("stream-%d", len(d.streams)+1),
		tracks: []*fakeTrack{{id: "video-0"}},
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) opened() int { return len(d.constraints) }

type fakePreview struct {
	attached []Stream
}

func (p *fakePreview) Attach(s Stream) { p.attached = append(p.attached, s) }

type fakePlatform struct {
	fullscreenRequests int
	listener           Listener
	denied             []string
	listens            int
	unlistens          int
}

func (p *fakePlatform) RequestFullscreen() { p.fullscreenRequests++ }

func (p *fakePlatform) Listen(l Listener, denied []string) func() {
	p.listener = l
	p.denied = denied
	p.listens++
	return func() {
		p.listener = nil
		p.unlistens++
	}
}

type fakeGrader struct {
	errs  []error
	calls [][]model.Answer
}

func (g *fakeGrader) Submit(_ context.Context, _ uuid.UUID, answers []model.Answer) error {
	g.calls = append(g.calls, answers)
	if len(g.errs) == 0 {
		return nil
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	return err
}

type fakeCatalogs struct {
	catalog *model.Catalog
	err     error
	calls   int
}

func (f *fakeCatalogs) FetchCatalog(context.Context, uuid.UUID) (*model.Catalog, error) {
	f.calls++
	return f.catalog, f.err
}

type fakeApplications struct {
	applied bool
	err     error
	calls   int
}

func (f *fakeApplications) HasApplied(context.Context, int, uuid.UUID) (bool, error) {
	f.calls++
	return f.applied, f.err
}

type recordingObserver struct {
	questions []model.Question
	states    []model.SessionSnapshot
	ticks     []int
	notices   []Notice
}

func (o *recordingObserver) QuestionsLoaded(q []model.Question)   { o.questions = q }
func (o *recordingObserver) StateChanged(s model.SessionSnapshot) { o.states = append(o.states, s) }
func (o *recordingObserver) Tick(remaining int)                   { o.ticks = append(o.ticks, remaining) }
func (o *recordingObserver) Notify(n Notice)                      { o.notices = append(o.notices, n) }

func (o *recordingObserver) count(kind NoticeKind) int {
	n := 0
	for _, x := range o.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}

func (o *recordingObserver) last(kind NoticeKind) (Notice, bool) {
	for i := len(o.notices) - 1; i >= 0; i-- {
		if o.notices[i].Kind == kind {
			return o.notices[i], true
		}
	}
	return Notice{}, false
}

type recordingRecorder struct {
	answers    []int
	violations []model.Violation
	attempts   []model.Attempt
}

func (r *recordingRecorder) RecordAnswer(_ Identity, a model.Answer) {
	r.answers = append(r.answers, a.QuestionID)
}
func (r *recordingRecorder) RecordViolation(v model.Violation) {
	r.violations = append(r.violations, v)
}
func (r *recordingRecorder) RecordAttempt(a model.Attempt) { r.attempts = append(r.attempts, a) }

// sampleCatalog builds n questions split over two skills.
func sampleCatalog(n, budget int) *model.Catalog {
	c := &model.Catalog{
		AssessmentID: uuid.New(),
		JobID:        uuid.New(),
		Title:        "Backend screening",
		TimeBudget:   budget,
		Skills: []model.Skill{
			{ID: 10, Name: "Go"},
			{ID: 20, Name: "SQL"},
		},
	}
	for i := 1; i <= n; i++ {
		skill := 0
		if i > (n+1)/2 {
			skill = 1
		}
		c.Skills[skill].Questions = append(c.Skills[skill].Questions, model.Question{
			ID:      i,
			Prompt:  fmt.Sprintf("Question %d", i),
			Options: []string{"one", "two", "three", "four"},
		})
	}
	return c
}

type harness struct {
	s        *Session
	loop     *manualLoop
	clock    *fakeClock
	device   *fakeDevice
	preview  *fakePreview
	platform *fakePlatform
	grader   *fakeGrader
	catalogs *fakeCatalogs
	apps     *fakeApplications
	obs      *recordingObserver
	rec      *recordingRecorder
}

func newHarness(t *testing.T, catalog *model.Catalog) *harness {
	t.Helper()
	h := &harness{
		loop:     &manualLoop{},
		clock:    &fakeClock{},
		device:   &fakeDevice{},
		preview:  &fakePreview{},
		platform: &fakePlatform{},
		grader:   &fakeGrader{},
		catalogs: &fakeCatalogs{catalog: catalog},
		apps:     &fakeApplications{},
		obs:      &recordingObserver{},
		rec:      &recordingRecorder{},
	}
	id := Identity{SessionID: uuid.New(), AssessmentID: catalog.AssessmentID, SubjectID: 42}
	h.s = NewSession(context.Background(), id, Deps{
		Loop:         h.loop,
		Clock:        h.clock,
		Device:       h.device,
		Preview:      h.preview,
		Platform:     h.platform,
		Grader:       h.grader,
		Catalogs:     h.catalogs,
		Applications: h.apps,
		Observer:     h.obs,
		Recorder:     h.rec,
	}, DefaultOptions(), zerolog.New(io.Discard))
	return h
}

// start runs Start to completion.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.s.Start()
	h.loop.flush()
}

func (h *harness) answer(t *testing.T, ids ...int) {
	t.Helper()
	for _, id := range ids {
		if err := h.s.SelectAnswer(id, "B"); err != nil {
			t.Fatalf("SelectAnswer(%d): %v", id, err)
		}
	}
}

func (h *harness) remaining() int { return h.s.Snapshot().RemainingSeconds }
