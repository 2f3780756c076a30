package websocket

import (
	"time"

	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/recognition"
)

// Envelope types
const (
	TypeAudio       = "audio"
	TypeCommand     = "command"
	TypeStatus      = "status"
	TypeRecognition = "recognition"
	TypeError       = "error"
)

// Command actions
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionTest  = "test"
)

// InboundMessage is an envelope sent by the browser. Data carries base64
// audio for TypeAudio; Action names the command for TypeCommand.
type InboundMessage struct {
	Type   string `json:"type"`
	Data   string `json:"data,omitempty"`
	Action string `json:"action,omitempty"`
}

type StatusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RecognitionMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newStatus(msg string) StatusMessage {
	return StatusMessage{Type: TypeStatus, Message: msg}
}

func newError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

// outbound converts a result into the envelope the browser expects. Failed
// results become error envelopes.
func outbound(res iat.Result) any {
	if res.Failed() {
		return newError("Recognition error: " + res.Error)
	}
	return RecognitionMessage{
		Type:       TypeRecognition,
		Text:       res.Text,
		IsFinal:    res.IsFinal,
		Confidence: res.Confidence,
	}
}

// SessionInfo describes a connected session for the REST API
type SessionInfo struct {
	ID          string               `json:"id"`
	RemoteAddr  string               `json:"remote_addr"`
	ConnectedAt time.Time            `json:"connected_at"`
	Recognizing bool                 `json:"recognizing"`
	Source      string               `json:"source"`
	Turn        recognition.TurnInfo `json:"turn"`
}
