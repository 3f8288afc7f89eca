package lock

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// settleDelay gives a burst of field-change notifications for a
// single logical slot edit time to settle before the final values are
// read back.
const settleDelay = 100 * time.Millisecond

// reconnectDelay is how long the watcher waits before re-dialing a
// dropped event stream. There is no backoff; the stream is retried on
// its natural cadence like everything else.
const reconnectDelay = 30 * time.Second

// SlotChange is an externally observed edit to a managed code slot.
type SlotChange struct {
	Slot int
	// Reset is true when the slot's reset button was pressed, meaning
	// the override must be recorded as cleared rather than re-read.
	Reset bool
}

// Watcher subscribes to the collaborator's state_changed event stream
// and surfaces edits to the managed lock's code slot entities.
type Watcher struct {
	config    Config
	lockName  string
	startSlot int
	maxSlots  int
	changes   chan SlotChange
}

// NewWatcher creates a watcher for the named lock's slot range.
func NewWatcher(config Config, lockName string, startSlot, maxSlots int) *Watcher {
	return &Watcher{
		config:    config,
		lockName:  lockName,
		startSlot: startSlot,
		maxSlots:  maxSlots,
		changes:   make(chan SlotChange, 16),
	}
}

// Changes returns the stream of observed slot edits.
func (w *Watcher) Changes() <-chan SlotChange {
	return w.changes
}

// Run maintains the websocket subscription until the context is
// cancelled, reconnecting on failure.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Lock event stream error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// wsMessage covers the subset of the Home Assistant websocket
// protocol the watcher needs.
type wsMessage struct {
	ID      int     `json:"id,omitempty"`
	Type    string  `json:"type"`
	Success *bool   `json:"success,omitempty"`
	Event   wsEvent `json:"event,omitempty"`
}

type wsEvent struct {
	EventType string      `json:"event_type"`
	Data      wsEventData `json:"data"`
}

type wsEventData struct {
	EntityID string `json:"entity_id"`
}

func (w *Watcher) stream(ctx context.Context) error {
	url := websocketURL(w.config.BaseURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so the read loop
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth challenge: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", msg.Type)
	}

	auth := map[string]any{
		"type":         "auth",
		"access_token": w.config.AuthToken(),
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("authentication failed: %s", msg.Type)
	}

	subscribe := map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	log.Printf("Watching slot state changes for lock %s", w.lockName)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading event: %w", err)
		}
		if msg.Type != "event" || msg.Event.EventType != "state_changed" {
			continue
		}

		entityID := msg.Event.Data.EntityID
		if !strings.Contains(entityID, w.lockName+"_code_slot_") {
			continue
		}

		slot, ok := parseSlotNumber(entityID)
		if !ok || slot < w.startSlot || slot >= w.startSlot+w.maxSlots {
			continue
		}

		// A single logical edit can fan out into a storm of entity
		// changes; let the burst settle before reporting.
		time.Sleep(settleDelay)

		change := SlotChange{
			Slot:  slot,
			Reset: strings.Contains(entityID, "_reset"),
		}

		select {
		case w.changes <- change:
		default:
			// Channel full: the pending changes already force a re-read.
		}
	}
}

// parseSlotNumber extracts the slot number from an entity id like
// "text.frontdoor_code_slot_12_pin".
func parseSlotNumber(entityID string) (int, bool) {
	for _, part := range strings.Split(entityID, "_") {
		if n, err := strconv.Atoi(part); err == nil {
			return n, true
		}
	}
	return 0, false
}

// websocketURL derives the websocket endpoint from the REST base URL.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimSuffix(base, "/") + "/api/websocket"
}
