package override

import (
	"log"
	"time"

	"github.com/rental-control/backend/internal/calendar"
)

// SweepDecision returns the occupied slots whose overrides no longer
// correspond to a live reservation and must be cleared. It is pure:
// the caller fires the external reset and records the cleared
// placeholder for each returned slot.
//
// liveNames is the set of identities currently materialized into
// rendered event slots, not the raw calendar; an event only counts
// once it is actually presented. maxEvents bounds how far into the
// calendar a reservation may legitimately be held. now supplies the
// local day used for lapse checks.
//
// Callers must skip the sweep entirely until the calendar has loaded
// and all event slots report available; clearing on incomplete data
// would discard valid assignments.
func (s *Store) SweepDecision(events []calendar.Event, maxEvents int, liveNames []string, now time.Time) []int {
	occupied := s.occupiedSlots()
	if len(occupied) == 0 {
		return nil
	}

	live := make(map[string]bool, len(liveNames))
	for _, name := range liveNames {
		live[name] = true
	}

	today := startOfDay(now)

	var lastReachableEnd time.Time
	if len(events) > 0 {
		last := len(events) - 1
		if maxEvents <= len(events) {
			last = maxEvents - 1
		}
		lastReachableEnd = startOfDay(events[last].End.In(now.Location()))
	}

	var stale []int
	for _, slot := range occupied {
		ov := s.overrides[slot]
		startDate := startOfDay(ov.Start.In(now.Location()))
		endDate := startOfDay(ov.End.In(now.Location()))

		var reason string
		switch {
		case !live[ov.SlotName]:
			reason = "identity not in current events"
		case len(events) == 0:
			reason = "no events in calendar"
		case startDate.After(endDate):
			reason = "start and end times do not make sense"
		case endDate.Before(today):
			reason = "end is before today"
		case startDate.After(lastReachableEnd):
			reason = "start is after last tracked event ends"
		default:
			continue
		}

		log.Printf("Slot %d (%s): %s, clearing", slot, ov.SlotName, reason)
		stale = append(stale, slot)
	}

	return stale
}
