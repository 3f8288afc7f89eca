// Package calendar fetches an ICS reservation feed and normalizes it
// into a sorted list of reservation events.
package calendar

import "time"

// Event is a resolved booking occupying a contiguous time span. The
// list produced by the pipeline is replaced wholesale on every
// successful fetch and is read-only to consumers.
type Event struct {
	// Summary is the display text, already carrying the configured
	// event prefix when one is set.
	Summary string

	// Description and Location are optional free-text fields. Several
	// booking platforms never populate a description.
	Description *string
	Location    *string

	// Start and End are stored in UTC. When the feed carries no end,
	// End equals Start.
	Start time.Time
	End   time.Time

	// SlotName is the derived reservation identity, nil for
	// blocked/unavailable entries that must never occupy a slot.
	SlotName *string
}

// SlotNameValue returns the derived identity or "" when none exists.
func (e Event) SlotNameValue() string {
	if e.SlotName == nil {
		return ""
	}
	return *e.SlotName
}
