package websocket

import (
	"log"
	"time"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastSyncCompleted sends a calendar sync completed event.
func (b *EventBroadcaster) BroadcastSyncCompleted(calendarName string, eventsFound int, nextSyncAt time.Time) {
	payload := SyncPayload{
		CalendarName: calendarName,
		Status:       "success",
		EventsFound:  eventsFound,
		NextSyncAt:   nextSyncAt,
	}

	msg := NewMessage(TypeSyncCompleted, payload)
	b.broadcast(msg)
}

// BroadcastSyncError sends a calendar sync error event.
func (b *EventBroadcaster) BroadcastSyncError(calendarName string, err error) {
	payload := SyncErrorPayload{
		CalendarName: calendarName,
		Error:        "sync_error",
		Message:      err.Error(),
	}

	msg := NewMessage(TypeSyncError, payload)
	b.broadcast(msg)
}

// BroadcastSlotAssigned sends a slot.assigned event.
func (b *EventBroadcaster) BroadcastSlotAssigned(slot int, slotName string) {
	msg := NewMessage(TypeSlotAssigned, SlotPayload{Slot: slot, SlotName: slotName})
	b.broadcast(msg)
}

// BroadcastSlotUpdated sends a slot.updated event.
func (b *EventBroadcaster) BroadcastSlotUpdated(slot int, slotName, detail string) {
	msg := NewMessage(TypeSlotUpdated, SlotPayload{Slot: slot, SlotName: slotName, Detail: detail})
	b.broadcast(msg)
}

// BroadcastSlotCleared sends a slot.cleared event.
func (b *EventBroadcaster) BroadcastSlotCleared(slot int, slotName, detail string) {
	msg := NewMessage(TypeSlotCleared, SlotPayload{Slot: slot, SlotName: slotName, Detail: detail})
	b.broadcast(msg)
}

// BroadcastSlotExternalChange sends a slot.external_change event when
// an edit made outside the service is observed.
func (b *EventBroadcaster) BroadcastSlotExternalChange(slot int, detail string) {
	msg := NewMessage(TypeSlotExternalChange, SlotPayload{Slot: slot, Detail: detail})
	b.broadcast(msg)
}

// BroadcastSystemStatus sends a system status change event.
func (b *EventBroadcaster) BroadcastSystemStatus(status map[string]interface{}) {
	msg := NewMessage(TypeSystemStatus, status)
	b.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(data)
}
