package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// ErrUnknownAction is returned by DecodeRequest for unrecognized actions.
var ErrUnknownAction = errors.New("unknown action")

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ReadMessage reads one raw message. It sets a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	return data, err
}

// DecodeRequest peeks at the action and decodes the message into its typed
// request struct. The returned value is a pointer to one of the *Request
// types of this package.
func DecodeRequest(data []byte) (Action, interface{}, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var req interface{}
	switch env.Action {
	case ActionCameraGranted:
		req = &CameraGrantedRequest{}
	case ActionCameraDenied:
		req = &CameraDeniedRequest{}
	case ActionFullscreenChange:
		req = &FullscreenChangeRequest{}
	case ActionFullscreenError:
		req = &FullscreenErrorRequest{}
	case ActionBlockedInput:
		req = &BlockedInputRequest{}
	case ActionSelectAnswer:
		req = &SelectAnswerRequest{}
	case ActionGoTo:
		req = &GoToRequest{}
	case ActionConfirm:
		req = &ConfirmRequest{}
	case ActionVisibilityHidden, ActionWindowBlur, ActionStart, ActionNext,
		ActionPrevious, ActionSubmit, ActionRetry, ActionPing:
		req = &BareRequest{}
	default:
		return env.Action, nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}

	if err := json.Unmarshal(data, req); err != nil {
		return env.Action, nil, fmt.Errorf("decode %s: %w", env.Action, err)
	}
	return env.Action, req, nil
}
