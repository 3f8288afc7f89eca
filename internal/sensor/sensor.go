// Package sensor renders the upcoming reservation events as fixed
// event slots and decides when door-code slots need work.
package sensor

import (
	"fmt"
	"time"

	"github.com/rental-control/backend/internal/calendar"
	"github.com/rental-control/backend/internal/override"
)

// Attributes are the rendered attributes of one event slot.
type Attributes struct {
	Summary     string     `json:"summary"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`

	ETADays    *int `json:"eta_days"`
	ETAHours   *int `json:"eta_hours"`
	ETAMinutes *int `json:"eta_minutes"`

	SlotName *string `json:"slot_name"`
	SlotCode *string `json:"slot_code"`

	// Parsed from the event description when present.
	LastFour       *string `json:"last_four,omitempty"`
	NumberOfGuests *string `json:"number_of_guests,omitempty"`
	GuestEmail     *string `json:"guest_email,omitempty"`
	PhoneNumber    *string `json:"phone_number,omitempty"`
	ReservationURL *string `json:"reservation_url,omitempty"`
}

// Intent is the external slot work an update decided on. The sensor
// never performs I/O itself; the coordinator executes intents.
type Intent struct {
	// CycleSlot, when non-zero, must be reset before new values are
	// applied: the reservation's dates shifted and a date-derived code
	// would silently change underneath the guest otherwise.
	CycleSlot int

	// Assign requests a fresh assignment for the rendered event to the
	// engine's next free slot.
	Assign bool

	// UpdateSlot, when non-zero, needs only a date-range push; the
	// reservation moved but its code stays.
	UpdateSlot int
}

// EventSensor exposes the i-th soonest reservation event, or an empty
// placeholder when fewer events exist.
type EventSensor struct {
	number      int
	name        string
	eventPrefix string

	generator  string
	codeLength int
	loc        *time.Location

	attrs     Attributes
	state     string
	available bool
}

// NewEventSensor creates the sensor for event slot number (0-based).
// loc is the property's timezone; date-derived codes and date drift
// comparisons use its calendar dates, not UTC's.
func NewEventSensor(calendarName, eventPrefix, generator string, codeLength, number int, loc *time.Location) *EventSensor {
	if loc == nil {
		loc = time.UTC
	}
	s := &EventSensor{
		number:      number,
		name:        fmt.Sprintf("%s Event %d", calendarName, number),
		eventPrefix: eventPrefix,
		generator:   generator,
		codeLength:  codeLength,
		loc:         loc,
	}
	s.reset()
	return s
}

// Number returns the event slot index.
func (s *EventSensor) Number() int { return s.number }

// Name returns the sensor's display name.
func (s *EventSensor) Name() string { return s.name }

// State returns the current display state.
func (s *EventSensor) State() string { return s.state }

// Attributes returns the rendered event attributes.
func (s *EventSensor) Attributes() Attributes { return s.attrs }

// Available reports whether the sensor has completed a render against
// a ready calendar.
func (s *EventSensor) Available() bool { return s.available }

// SlotName returns the rendered reservation identity, "" when none.
func (s *EventSensor) SlotName() string {
	if s.attrs.SlotName == nil {
		return ""
	}
	return *s.attrs.SlotName
}

// Update re-renders the sensor against the current calendar and
// returns the slot work this render calls for. overrides may be nil
// when no lock is managed. shouldUpdateCode mirrors the configured
// flag allowing date shifts to cycle date-derived codes.
func (s *EventSensor) Update(events []calendar.Event, overrides *override.Store, shouldUpdateCode bool, now time.Time) Intent {
	var intent Intent

	if s.number >= len(events) {
		s.reset()
		s.available = true
		return intent
	}

	event := events[s.number]

	// A date shift on a not-yet-started reservation invalidates a
	// date-derived code; the held slot must be cycled before the new
	// values land.
	if overrides != nil && shouldUpdateCode && s.generator == "date_based" &&
		event.Start.After(now) && s.datesChanged(event) {
		if slot, ok := overrides.SlotByName(s.SlotName()); ok {
			intent.CycleSlot = slot
		}
	}

	start := event.Start
	end := event.End
	s.attrs.Summary = event.Summary
	s.attrs.Description = event.Description
	s.attrs.Location = event.Location
	s.attrs.Start = &start
	s.attrs.End = &end

	s.attrs.ETADays = nil
	s.attrs.ETAHours = nil
	s.attrs.ETAMinutes = nil
	if td := start.Sub(now); td >= 0 {
		days := int(td.Hours()) / 24
		hours := int(td.Hours())
		minutes := int(td.Minutes())
		s.attrs.ETADays = &days
		s.attrs.ETAHours = &hours
		s.attrs.ETAMinutes = &minutes
	}

	s.state = fmt.Sprintf("%s - %s", event.Summary, start.Format("2 January 2006 15:04"))

	s.attrs.SlotName = nil
	slotName, hasSlotName := calendar.ExtractSlotName(event.Summary, stringValue(event.Description), s.eventPrefix)
	if hasSlotName {
		s.attrs.SlotName = &slotName
	}

	var ov *override.Override
	if overrides != nil && hasSlotName {
		ov = overrides.ByName(slotName)
	}

	if overrides != nil && hasSlotName && ov == nil {
		intent.Assign = true
	}

	if !intent.Assign && ov != nil &&
		(!s.sameLocalDate(ov.Start, start) || !s.sameLocalDate(ov.End, end)) {
		if slot, ok := overrides.SlotByName(slotName); ok {
			intent.UpdateSlot = slot
		}
	}

	// An explicit externally-set code always wins; generation is the
	// fallback. Codes derive from the property's local calendar dates.
	var code string
	if ov != nil && ov.SlotCode != "" {
		code = ov.SlotCode
	} else {
		code = GenerateCode(s.generator, s.codeLength, event.Description, start.In(s.loc), end.In(s.loc))
	}
	s.attrs.SlotCode = &code

	s.parseDescription()

	s.available = true
	return intent
}

// datesChanged reports whether the event's boundaries differ from the
// previous render.
func (s *EventSensor) datesChanged(event calendar.Event) bool {
	if s.attrs.Start == nil || s.attrs.End == nil {
		return false
	}
	return !s.attrs.Start.Equal(event.Start) || !s.attrs.End.Equal(event.End)
}

// reset restores the empty "No reservation" placeholder.
func (s *EventSensor) reset() {
	summary := "No reservation"
	if s.eventPrefix != "" {
		summary = s.eventPrefix + " " + summary
	}
	s.attrs = Attributes{Summary: summary}
	s.state = summary
}

// parseDescription refreshes the attributes extracted from the event
// description.
func (s *EventSensor) parseDescription() {
	desc := stringValue(s.attrs.Description)

	s.attrs.LastFour = optional(extractLastFour(desc))
	s.attrs.NumberOfGuests = optional(extractNumGuests(desc))
	s.attrs.GuestEmail = optional(extractEmail(desc))
	s.attrs.PhoneNumber = optional(extractPhoneNumber(desc))
	s.attrs.ReservationURL = optional(extractURL(desc))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sameLocalDate compares calendar dates in the property's timezone.
// A check-in that crosses UTC midnight must not read as a drifted
// reservation.
func (s *EventSensor) sameLocalDate(a, b time.Time) bool {
	ay, am, ad := a.In(s.loc).Date()
	by, bm, bd := b.In(s.loc).Date()
	return ay == by && am == bm && ad == bd
}
