package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/rental-control/backend/internal/api/middleware"
	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/sensor"
)

// EventSlotResponse is one rendered event slot.
type EventSlotResponse struct {
	Number     int               `json:"number"`
	Name       string            `json:"name"`
	State      string            `json:"state"`
	Available  bool              `json:"available"`
	Attributes sensor.Attributes `json:"attributes"`
}

// ListEvents returns a handler serving the current reservation events.
func ListEvents(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(coord.Events())
	}
}

// ListEventSlots returns a handler serving the rendered event slots.
func ListEventSlots(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sensors := coord.Sensors()

		out := make([]EventSlotResponse, 0, len(sensors))
		for _, s := range sensors {
			out = append(out, EventSlotResponse{
				Number:     s.Number(),
				Name:       s.Name(),
				State:      s.State(),
				Available:  s.Available(),
				Attributes: s.Attributes(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// OverrideResponse is one slot's override entry. Cleared slots carry a
// null override.
type OverrideResponse struct {
	Slot     int     `json:"slot"`
	SlotName *string `json:"slot_name"`
	SlotCode *string `json:"slot_code"`
	Start    *string `json:"start"`
	End      *string `json:"end"`
}

// ListOverrides returns a handler serving the current override table.
func ListOverrides(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := coord.Overrides()
		if snapshot == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "no lock is managed")
			return
		}

		out := make([]OverrideResponse, 0, len(snapshot))
		for slot, ov := range snapshot {
			resp := OverrideResponse{Slot: slot}
			if ov != nil {
				name, code := ov.SlotName, ov.SlotCode
				start := ov.Start.Format("2006-01-02T15:04:05Z07:00")
				end := ov.End.Format("2006-01-02T15:04:05Z07:00")
				resp.SlotName = &name
				resp.SlotCode = &code
				resp.Start = &start
				resp.End = &end
			}
			out = append(out, resp)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
