package ws

import "github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"

// Client to server message types.
const (
	TypeExecute = "execute"
	TypeStop    = "stop"
	TypePing    = "ping"
)

// Server to client message types.
const (
	TypeConnected = "connected"
	TypeStarted   = "started"
	TypeResult    = "result"
	TypeClosed    = "closed"
	TypeStopped   = "stopped"
	TypePong      = "pong"
	TypeError     = "error"
)

// ClientMessage is a request from the socket peer.
type ClientMessage struct {
	Type     string `json:"type"`
	Script   string `json:"script,omitempty"`
	ScriptID string `json:"scriptId,omitempty"`
	// RequestID is echoed back so clients can match replies.
	RequestID string `json:"requestId,omitempty"`
}

// ServerMessage is pushed to the socket peer.
type ServerMessage struct {
	Type         string        `json:"type"`
	ScriptID     string        `json:"scriptId,omitempty"`
	Data         any           `json:"data"`
	Reason       script.Reason `json:"reason,omitempty"`
	Success      *bool         `json:"success,omitempty"`
	Message      string        `json:"message,omitempty"`
	RequestID    string        `json:"requestId,omitempty"`
	ConnectionID string        `json:"connectionId,omitempty"`
	Timestamp    int64         `json:"timestamp"`
}
