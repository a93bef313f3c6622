package assessment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Constraints describes the capture request sent to the device.
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Track is one media track of a captured stream.
type Track interface {
	ID() string
	Stop()
}

// Stream is an opaque captured stream handle.
type Stream interface {
	ID() string
	Tracks() []Track
}

// CaptureDevice opens capture streams. Open may block until the subject
// answers the permission prompt.
type CaptureDevice interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// PreviewSink renders a live preview of the held stream.
type PreviewSink interface {
	Attach(s Stream)
}

// MediaCapture owns the session's camera stream. No other component reads
// or mutates the handle.
type MediaCapture struct {
	loop    Loop
	device  CaptureDevice
	sink    PreviewSink
	timeout time.Duration
	log     zerolog.Logger

	stream  Stream
	pending bool
	waiters []acquireWaiter
	// gen invalidates in-flight acquisitions when the stream is released.
	gen uint64
}

// acquireWaiter is one Acquire caller waiting on the in-flight prompt.
type acquireWaiter struct {
	gen  uint64
	done func(error)
}

// NewMediaCapture creates a manager holding no stream.
func NewMediaCapture(loop Loop, device CaptureDevice, sink PreviewSink, timeout time.Duration, log zerolog.Logger) *MediaCapture {
	return &MediaCapture{
		loop:    loop,
		device:  device,
		sink:    sink,
		timeout: timeout,
		log:     log,
	}
}

// Held reports whether a stream is held.
func (m *MediaCapture) Held() bool { return m.stream != nil }

// Acquire requests a video-only stream and reports the outcome through done
// on the loop. Holding a stream already reports success immediately. Calls
// made while one acquisition is in flight share its outcome; callers that
// asked after a Release never receive a stream opened before it.
func (m *MediaCapture) Acquire(ctx context.Context, done func(error)) {
	if m.stream != nil {
		done(nil)
		return
	}
	m.waiters = append(m.waiters, acquireWaiter{gen: m.gen, done: done})
	if m.pending {
		return
	}
	m.open(ctx)
}

func (m *MediaCapture) open(ctx context.Context) {
	m.pending = true
	gen := m.gen

	var (
		stream Stream
		err    error
	)
	m.loop.Await(func() {
		openCtx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		stream, err = m.device.Open(openCtx, Constraints{Video: true, Audio: false})
	}, func() {
		m.pending = false
		m.opened(ctx, gen, stream, err)
	})
}

func (m *MediaCapture) opened(ctx context.Context, gen uint64, stream Stream, err error) {
	var stale, current []acquireWaiter
	for _, w := range m.waiters {
		if w.gen == m.gen {
			current = append(current, w)
		} else {
			stale = append(stale, w)
		}
	}
	m.waiters = nil

	switch {
	case err != nil:
		m.log.Warn().Err(err).Msg("Camera acquisition failed")
		notify(stale, errCaptureCancelled)
		notify(current, err)
	case gen != m.gen:
		// Released while the prompt was open.
		stopTracks(stream)
		notify(stale, errCaptureCancelled)
		if len(current) > 0 {
			// Asked for again after the release; prompt afresh.
			m.waiters = current
			m.open(ctx)
		}
	default:
		m.stream = stream
		m.sink.Attach(stream)
		m.log.Debug().Str("stream_id", stream.ID()).Msg("Camera stream acquired")
		notify(current, nil)
	}
}

func notify(waiters []acquireWaiter, err error) {
	for _, w := range waiters {
		w.done(err)
	}
}

// Release stops every track of the held stream and clears the handle. It is
// safe to call with no stream held.
func (m *MediaCapture) Release() {
	m.gen++
	if m.stream == nil {
		return
	}
	stopTracks(m.stream)
	m.log.Debug().Str("stream_id", m.stream.ID()).Msg("Camera stream released")
	m.stream = nil
}

func stopTracks(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
