// Package wire defines the envelope shapes carried on the console's duplex
// channel. Two kinds of traffic share the channel: notification envelopes
// published by the backend (role "notification") and terminal frames that
// carry pseudo-terminal control and data for a single session. The JSON
// field layout is fixed by the backend protocol and must not change.
package wire

import (
	"encoding/json"
	"fmt"
)

// RoleNotification marks an envelope as a backend notification. Envelopes
// with any other role value never reach topic subscribers.
const RoleNotification = "notification"

// Terminal frame types.
const (
	FrameTerminalStart = "terminal_start"
	FrameTerminalStop  = "terminal_stop"
	FrameTerminalInput = "terminal_input"
	FrameError         = "error"
)

// Notification message types observed by the console.
const (
	MsgSessionStarted       = "session_started"
	MsgSessionEnded         = "session_ended"
	MsgTopicUpdated         = "topic_updated"
	MsgRuntimeStatusChanged = "runtime_status_changed"
	MsgTerminalOutput       = "terminal_output"
	MsgTerminalStatus       = "terminal_status"
)

// Terminal status values carried by MsgTerminalStatus payloads.
const (
	StatusStarted = "started"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// Envelope is one message unit on the shared channel. A notification
// envelope sets Role and MessageType; a terminal control frame sets Type
// and optionally Data. The two shapes overlap deliberately so one struct
// round-trips both.
type Envelope struct {
	SessionID   string          `json:"session_id,omitempty"`
	Role        string          `json:"role,omitempty"`
	Type        string          `json:"type,omitempty"`
	MessageType string          `json:"message_type,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Data        string          `json:"data,omitempty"`
}

// IsNotification reports whether the envelope should be routed to topic
// subscribers.
func (e Envelope) IsNotification() bool {
	return e.Role == RoleNotification
}

// IsError reports whether the envelope is a raw error frame. Error frames
// are recognized solely by their type field.
func (e Envelope) IsError() bool {
	return e.Type == FrameError
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %q: empty payload", e.MessageType)
	}
	return json.Unmarshal(e.Payload, v)
}

// TerminalOutputPayload is the payload of a terminal_output notification.
type TerminalOutputPayload struct {
	Data string `json:"data"`
}

// TerminalStatusPayload is the payload of a terminal_status notification.
// Message is only set for status "error".
type TerminalStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SessionPayload is the payload of session_started and session_ended
// notifications.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id,omitempty"`
}

// RuntimeStatusPayload is the payload of runtime_status_changed
// notifications published by the daemon's status ticker.
type RuntimeStatusPayload struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Sessions      int     `json:"sessions"`
}

// TerminalStart builds a terminal_start control frame for the session.
func TerminalStart(sessionID string) Envelope {
	return Envelope{SessionID: sessionID, Type: FrameTerminalStart}
}

// TerminalStop builds a terminal_stop control frame for the session.
func TerminalStop(sessionID string) Envelope {
	return Envelope{SessionID: sessionID, Type: FrameTerminalStop}
}

// TerminalInput builds a terminal_input frame carrying raw keystroke data.
func TerminalInput(sessionID, data string) Envelope {
	return Envelope{SessionID: sessionID, Type: FrameTerminalInput, Data: data}
}

// Notification builds a notification envelope with the given payload.
// It panics only if payload cannot be marshalled, which indicates a
// programming error in the caller.
func Notification(sessionID, messageType string, payload any) Envelope {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("wire: marshal %s payload: %v", messageType, err))
	}
	return Envelope{
		SessionID:   sessionID,
		Role:        RoleNotification,
		MessageType: messageType,
		Payload:     body,
	}
}

// Parse decodes one raw frame from the channel.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return e, nil
}
