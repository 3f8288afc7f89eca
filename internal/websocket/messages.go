package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSyncCompleted      MessageType = "calendar.sync_completed"
	TypeSyncError          MessageType = "calendar.sync_error"
	TypeSlotAssigned       MessageType = "slot.assigned"
	TypeSlotUpdated        MessageType = "slot.updated"
	TypeSlotCleared        MessageType = "slot.cleared"
	TypeSlotExternalChange MessageType = "slot.external_change"
	TypeSystemStatus       MessageType = "system.status_changed"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncPayload is the payload for calendar.sync_completed events.
type SyncPayload struct {
	CalendarName string    `json:"calendar_name"`
	Status       string    `json:"status"`
	EventsFound  int       `json:"events_found"`
	NextSyncAt   time.Time `json:"next_sync_at,omitempty"`
}

// SyncErrorPayload is the payload for calendar.sync_error events.
type SyncErrorPayload struct {
	CalendarName string `json:"calendar_name"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

// SlotPayload is the payload for slot.* events.
type SlotPayload struct {
	Slot     int    `json:"slot"`
	SlotName string `json:"slot_name,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
