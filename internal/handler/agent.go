package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/model"
	ws "github.com/stemsi/exstem-screening/internal/websocket"
)

const (
	sendDepth  = 64
	pingPeriod = 30 * time.Second
)

// errSlowConsumer closes connections whose outbound buffer fills up.
var errSlowConsumer = errors.New("outbound buffer full")

// cameraReply is the browser's answer to a camera_acquire event.
type cameraReply struct {
	streamID string
	tracks   []string
	reason   string
	granted  bool
}

// wsAgent is the subject's browser seen through a WebSocket. It implements
// every environment port of the session engine: events flow out through
// send, and platform reports flow back in through the connection reader.
type wsAgent struct {
	conn *websocket.Conn
	log  zerolog.Logger

	out        chan interface{}
	done       chan struct{}
	finishing  chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once

	camera chan cameraReply

	// Set once the live session exists.
	loop assessment.Loop

	// Touched only on the session loop.
	listener  assessment.Listener
	questions []model.Question
}

func newWSAgent(conn *websocket.Conn, log zerolog.Logger) *wsAgent {
	return &wsAgent{
		conn:      conn,
		log:       log,
		out:       make(chan interface{}, sendDepth),
		done:      make(chan struct{}),
		finishing: make(chan struct{}),
		camera:    make(chan cameraReply, 1),
	}
}

// bind attaches the agent to its session loop. Platform reports received
// before bind are dropped.
func (a *wsAgent) bind(loop assessment.Loop) { a.loop = loop }

// writePump is the only goroutine writing to the connection.
func (a *wsAgent) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-a.finishing:
			a.flush()
			return
		case v := <-a.out:
			if err := ws.WriteTyped(a.conn, v); err != nil {
				a.log.Debug().Err(err).Msg("Write failed")
				a.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := a.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, says goodbye and closes.
func (a *wsAgent) flush() {
	defer a.close()
	for {
		select {
		case v := <-a.out:
			if err := ws.WriteTyped(a.conn, v); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
			_ = a.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// finish closes the connection once queued events are written.
func (a *wsAgent) finish() {
	a.finishOnce.Do(func() { close(a.finishing) })
}

// send queues an outbound event without blocking the caller.
func (a *wsAgent) send(v interface{}) {
	select {
	case <-a.done:
	case a.out <- v:
	default:
		a.log.Warn().Err(errSlowConsumer).Msg("Dropping connection")
		a.close()
	}
}

func (a *wsAgent) sendError(msg string) {
	a.send(ws.ErrorResponse{Event: ws.EventError, Error: msg})
}

// close stops the write pump and closes the socket, unblocking the reader.
func (a *wsAgent) close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.conn.Close()
	})
}

// ─── assessment.CaptureDevice ───────────────────────────────────────

// Open asks the browser for a camera stream and waits for its answer. A
// prompt left unanswered until ctx expires counts as no camera.
func (a *wsAgent) Open(ctx context.Context, c assessment.Constraints) (assessment.Stream, error) {
	// A reply left over from a cancelled request must not answer this one.
	select {
	case <-a.camera:
	default:
	}

	a.send(ws.CameraAcquireResponse{Event: ws.EventCameraAcquire, Video: c.Video, Audio: c.Audio})

	select {
	case r := <-a.camera:
		if !r.granted {
			if r.reason == "not_found" {
				return nil, assessment.ErrCameraUnavailable
			}
			return nil, assessment.ErrCameraDenied
		}
		s := &remoteStream{id: r.streamID, agent: a}
		for _, id := range r.tracks {
			s.tracks = append(s.tracks, &remoteTrack{id: id, stream: s})
		}
		return s, nil
	case <-a.done:
		return nil, assessment.ErrCameraUnavailable
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, assessment.ErrCameraUnavailable
		}
		return nil, ctx.Err()
	}
}

// deliverCamera hands a camera reply to a waiting Open.
func (a *wsAgent) deliverCamera(r cameraReply) {
	select {
	case a.camera <- r:
	default:
		a.log.Debug().Msg("Unsolicited camera reply dropped")
	}
}

type remoteStream struct {
	id     string
	tracks []*remoteTrack
	agent  *wsAgent
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []assessment.Track {
	out := make([]assessment.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

type remoteTrack struct {
	id      string
	stream  *remoteStream
	stopped bool
}

func (t *remoteTrack) ID() string { return t.id }

func (t *remoteTrack) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	t.stream.agent.send(ws.CameraStopTrackResponse{
		Event:    ws.EventCameraStopTrack,
		StreamID: t.stream.id,
		TrackID:  t.id,
	})
}

// ─── assessment.PreviewSink ─────────────────────────────────────────

func (a *wsAgent) Attach(s assessment.Stream) {
	a.send(ws.PreviewAttachResponse{Event: ws.EventPreviewAttach, StreamID: s.ID()})
}

// ─── assessment.Platform ────────────────────────────────────────────

func (a *wsAgent) RequestFullscreen() {
	a.send(ws.SignalResponse{Event: ws.EventFullscreenRequest})
}

func (a *wsAgent) Listen(l assessment.Listener, denied []string) func() {
	a.listener = l
	a.send(ws.LockdownAttachResponse{Event: ws.EventLockdownAttach, DenyKeys: denied})
	return func() {
		if a.listener != l {
			return
		}
		a.listener = nil
		a.send(ws.SignalResponse{Event: ws.EventLockdownDetach})
	}
}

// report delivers a platform event to the current listener on the loop.
func (a *wsAgent) report(fn func(l assessment.Listener)) {
	if a.loop == nil {
		return
	}
	a.loop.Post(func() {
		if a.listener != nil {
			fn(a.listener)
		}
	})
}

// ─── assessment.Observer ────────────────────────────────────────────

// QuestionsLoaded holds the list until the next state event carries it.
func (a *wsAgent) QuestionsLoaded(q []model.Question) { a.questions = q }

func (a *wsAgent) StateChanged(snap model.SessionSnapshot) {
	a.send(ws.StateResponse{Event: ws.EventState, State: snap, Questions: a.questions})
	a.questions = nil
}

func (a *wsAgent) Tick(remaining int) {
	a.send(ws.TickResponse{Event: ws.EventTick, Remaining: remaining})
}

func (a *wsAgent) Notify(n assessment.Notice) {
	if n.Kind == assessment.NoticeConfirmRequired {
		a.send(ws.ConfirmRequiredResponse{
			Event:      ws.EventConfirmRequired,
			Unanswered: n.Unanswered,
			Remaining:  n.Remaining,
		})
		return
	}
	a.send(ws.NoticeResponse{Event: ws.EventNotice, Notice: n})
}
