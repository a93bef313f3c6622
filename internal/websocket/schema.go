package websocket

import (
	"github.com/stemsi/exstem-screening/internal/model"
)

// ─── Actions (Agent → Engine) ───────────────────────────────────────

type Action string

const (
	// Platform reports.
	ActionCameraGranted    Action = "camera_granted"
	ActionCameraDenied     Action = "camera_denied"
	ActionFullscreenChange Action = "fullscreen_change"
	ActionFullscreenError  Action = "fullscreen_error"
	ActionVisibilityHidden Action = "visibility_hidden"
	ActionWindowBlur       Action = "window_blur"
	ActionBlockedInput     Action = "blocked_input"

	// Subject operations.
	ActionStart        Action = "start"
	ActionSelectAnswer Action = "select_answer"
	ActionNext         Action = "next"
	ActionPrevious     Action = "previous"
	ActionGoTo         Action = "goto"
	ActionSubmit       Action = "submit"
	ActionConfirm      Action = "confirm"
	ActionRetry        Action = "retry"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// CameraGrantedRequest reports the stream opened by the browser.
type CameraGrantedRequest struct {
	Action   Action   `json:"action"`
	StreamID string   `json:"stream_id" binding:"required,max=128"`
	Tracks   []string `json:"tracks" binding:"required,min=1,dive,required,max=128"`
}

// CameraDeniedRequest reports a failed camera prompt. Reason is
// "not_found" when no device exists and anything else for a refusal.
type CameraDeniedRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason" binding:"max=256"`
}

// FullscreenChangeRequest reports entering or leaving fullscreen.
type FullscreenChangeRequest struct {
	Action Action `json:"action"`
	Active bool   `json:"active"`
}

// FullscreenErrorRequest reports a rejected fullscreen request.
type FullscreenErrorRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason" binding:"max=256"`
}

// BlockedInputRequest reports a suppressed input.
type BlockedInputRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind" binding:"required,oneof=context_menu selection drag key"`
	Combo  string `json:"combo" binding:"required_if=Kind key,max=64"`
}

// SelectAnswerRequest selects a choice for a question.
type SelectAnswerRequest struct {
	Action Action `json:"action"`
	QID    int    `json:"q_id" binding:"required,min=1"`
	Answer string `json:"ans" binding:"required,len=1,alpha"`
}

// GoToRequest jumps to a question index.
type GoToRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// ConfirmRequest answers an incomplete-answers confirmation.
type ConfirmRequest struct {
	Action  Action `json:"action"`
	Proceed bool   `json:"proceed"`
}

// BareRequest carries actions without arguments.
type BareRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Engine → Agent) ────────────────────────────────────────

type Event string

const (
	EventState             Event = "state"
	EventTick              Event = "tick"
	EventNotice            Event = "notice"
	EventCameraAcquire     Event = "camera_acquire"
	EventCameraStopTrack   Event = "camera_stop_track"
	EventPreviewAttach     Event = "preview_attach"
	EventFullscreenRequest Event = "fullscreen_request"
	EventLockdownAttach    Event = "lockdown_attach"
	EventLockdownDetach    Event = "lockdown_detach"
	EventConfirmRequired   Event = "confirm_required"
	EventPong              Event = "pong"
	EventError             Event = "error"
)

// StateResponse carries the session snapshot. Questions are included once,
// on the first state after the catalog loads.
type StateResponse struct {
	Event     Event                 `json:"event"`
	State     model.SessionSnapshot `json:"state"`
	Questions []model.Question      `json:"questions,omitempty"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

// NoticeResponse wraps an engine notice; Notice is flattened by the caller.
type NoticeResponse struct {
	Event  Event       `json:"event"`
	Notice interface{} `json:"notice"`
}

type CameraAcquireResponse struct {
	Event Event `json:"event"`
	Video bool  `json:"video"`
	Audio bool  `json:"audio"`
}

type CameraStopTrackResponse struct {
	Event    Event  `json:"event"`
	StreamID string `json:"stream_id"`
	TrackID  string `json:"track_id"`
}

type PreviewAttachResponse struct {
	Event    Event  `json:"event"`
	StreamID string `json:"stream_id"`
}

type LockdownAttachResponse struct {
	Event    Event    `json:"event"`
	DenyKeys []string `json:"deny_keys"`
}

type ConfirmRequiredResponse struct {
	Event      Event `json:"event"`
	Unanswered int   `json:"unanswered"`
	Remaining  int   `json:"remaining"`
}

// SignalResponse carries events without arguments.
type SignalResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
