package calendar

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// requestTimeout bounds the feed fetch. Expiry is treated the same as
// an HTTP error: recoverable, retried on the next refresh.
const requestTimeout = 60 * time.Second

// pastEventGrace is how far behind the window start an event's end may
// lie before the event is dropped outright.
const pastEventGrace = 30 * 24 * time.Hour

// SlotOverride is the externally supplied override window for a named
// reservation. Times are stored in UTC.
type SlotOverride struct {
	Code  string
	Start time.Time
	End   time.Time
}

// OverrideLookup resolves a reservation identity to its active slot
// override, if one exists. Absence is not an error.
type OverrideLookup interface {
	BySlotName(name string) (SlotOverride, bool)
}

// Options configures a Pipeline.
type Options struct {
	URL       string
	VerifyTLS bool

	// Timezone is the calendar's IANA zone; dates are combined with
	// check-in/out times in this zone before conversion to UTC.
	Timezone *time.Location

	CheckinHour, CheckinMinute   int
	CheckoutHour, CheckoutMinute int

	// Days is the forward window of calendar days.
	Days int

	// EventPrefix is prepended to summaries for display only.
	EventPrefix string

	// IgnoreNonReserved drops "Blocked" / "Not available" entries.
	IgnoreNonReserved bool

	// Overrides resolves slot overrides during time derivation. May be
	// nil when no lock is managed.
	Overrides OverrideLookup
}

// Pipeline owns the reservation event list: it fetches the raw ICS
// feed, normalizes it and atomically replaces the previous list. All
// consumers read, never mutate.
type Pipeline struct {
	opts   Options
	client *http.Client

	events []Event
	loaded bool
}

// NewPipeline creates a fetch-and-normalize pipeline for one feed.
func NewPipeline(opts Options) *Pipeline {
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	transport := http.DefaultTransport
	if !opts.VerifyTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Pipeline{
		opts: opts,
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
	}
}

// Events returns the current reservation event list, sorted by start
// time ascending.
func (p *Pipeline) Events() []Event {
	return p.events
}

// Loaded reports whether at least one fetch has completed this
// process lifetime.
func (p *Pipeline) Loaded() bool {
	return p.loaded
}

// Refresh fetches and re-normalizes the feed. On a recoverable
// failure the previous event list is kept unchanged and an error is
// returned for the caller to log; the caller must not treat it as
// fatal.
func (p *Pipeline) Refresh(ctx context.Context, now time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading calendar: %w", err)
	}

	// Some feed providers pad the payload with NUL bytes, which the
	// parser rejects outright.
	body = bytes.ReplaceAll(body, []byte{0}, nil)

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing calendar: %w", err)
	}

	windowStart := startOfDay(now.In(p.opts.Timezone))
	windowEnd := windowStart.AddDate(0, 0, p.opts.Days)

	parsed := p.parse(cal, windowStart, windowEnd)

	// A suddenly empty parse after a healthy fetch is treated as a
	// transient feed anomaly: keep the previous list.
	if len(p.events) > 1 && len(parsed) == 0 {
		return fmt.Errorf("calendar yielded no events but previous fetch had %d", len(p.events))
	}

	p.events = parsed
	p.loaded = true
	return nil
}

// parse walks the calendar's VEVENT components and produces the
// normalized, windowed, sorted event list.
func (p *Pipeline) parse(cal *ical.Calendar, windowStart, windowEnd time.Time) []Event {
	feedTZ := p.feedTimezone(cal)

	events := make([]Event, 0)

	for _, ve := range cal.Events() {
		summary := "Unknown"
		if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil && prop.Value != "" {
			summary = prop.Value
		}

		// Recurring bookings are not a supported shape for rentals;
		// expanding them risks slot exhaustion.
		if ve.GetProperty(ical.ComponentPropertyRrule) != nil {
			log.Printf("RRULE in event %q, skipping", summary)
			continue
		}

		// Smoobu emits synthetic check-in/out marker events alongside
		// the real booking.
		if strings.Contains(summary, "Check-in") || strings.Contains(summary, "Check-out") {
			continue
		}

		startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
		if startProp == nil {
			log.Printf("Event %q has no start, skipping", summary)
			continue
		}
		rawStart, startHasTime, err := p.propTime(startProp, feedTZ)
		if err != nil {
			log.Printf("Unparseable start on event %q: %v", summary, err)
			continue
		}

		endProp := ve.GetProperty(ical.ComponentPropertyDtEnd)
		var (
			rawEnd     time.Time
			endHasTime bool
			hasEnd     bool
		)
		if endProp != nil {
			rawEnd, endHasTime, err = p.propTime(endProp, feedTZ)
			if err != nil {
				log.Printf("Unparseable end on event %q: %v", summary, err)
				continue
			}
			hasEnd = true
		}

		// Trailing-edge window: drop events long since ended.
		if hasEnd && startOfDay(rawEnd).Before(startOfDay(windowStart).Add(-pastEventGrace)) {
			continue
		}
		// Leading-edge window: drop events past the forward horizon.
		if startOfDay(rawStart).After(startOfDay(windowEnd)) {
			continue
		}

		if p.opts.IgnoreNonReserved &&
			(strings.Contains(summary, "Blocked") || strings.Contains(summary, "Not available")) {
			continue
		}

		description := ""
		if prop := ve.GetProperty(ical.ComponentPropertyDescription); prop != nil {
			description = prop.Value
		}

		slotName, hasSlotName := ExtractSlotName(summary, description, "")

		// Effective check-in/out times: an active override wins, then
		// the event's own time of day, then the configured defaults.
		checkinH, checkinM := p.opts.CheckinHour, p.opts.CheckinMinute
		checkoutH, checkoutM := p.opts.CheckoutHour, p.opts.CheckoutMinute

		var override *SlotOverride
		if hasSlotName && p.opts.Overrides != nil {
			if ov, ok := p.opts.Overrides.BySlotName(slotName); ok {
				override = &ov
			}
		}

		switch {
		case override != nil:
			// Override times are stored in UTC; take the time of day in
			// the calendar's zone.
			ovStart := override.Start.In(p.opts.Timezone)
			ovEnd := override.End.In(p.opts.Timezone)
			checkinH, checkinM = ovStart.Hour(), ovStart.Minute()
			checkoutH, checkoutM = ovEnd.Hour(), ovEnd.Minute()
		case startHasTime:
			checkinH, checkinM = rawStart.Hour(), rawStart.Minute()
			if hasEnd && endHasTime {
				checkoutH, checkoutM = rawEnd.Hour(), rawEnd.Minute()
			}
		}

		start := combine(rawStart, checkinH, checkinM, p.opts.Timezone)
		end := start
		if hasEnd {
			end = combine(rawEnd, checkoutH, checkoutM, p.opts.Timezone)
		}

		// Drop events that have fully elapsed, including ones ending at
		// local midnight today: a checked-out guest's slot must not
		// present as active.
		if end.Before(windowStart) {
			continue
		}
		endUTC := end.UTC()
		if sameDate(endUTC, windowStart.UTC()) &&
			endUTC.Hour() == 0 && endUTC.Minute() == 0 && endUTC.Second() == 0 {
			continue
		}

		displaySummary := summary
		if p.opts.EventPrefix != "" {
			displaySummary = p.opts.EventPrefix + " " + summary
		}

		ev := Event{
			Summary: displaySummary,
			Start:   start.UTC(),
			End:     end.UTC(),
		}
		if description != "" {
			d := description
			ev.Description = &d
		}
		if prop := ve.GetProperty(ical.ComponentPropertyLocation); prop != nil && prop.Value != "" {
			l := prop.Value
			ev.Location = &l
		}
		if hasSlotName {
			n := slotName
			ev.SlotName = &n
		}

		events = append(events, ev)
	}

	// Stable: events with identical starts keep feed order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	return events
}

// feedTimezone resolves a non-standard X-WR-TIMEZONE declaration to an
// IANA zone used for floating time values. Nil when absent or unknown.
func (p *Pipeline) feedTimezone(cal *ical.Calendar) *time.Location {
	for _, prop := range cal.CalendarProperties {
		if prop.IANAToken != "X-WR-TIMEZONE" || prop.Value == "" {
			continue
		}
		loc, err := time.LoadLocation(prop.Value)
		if err != nil {
			log.Printf("Unknown X-WR-TIMEZONE %q, ignoring", prop.Value)
			return nil
		}
		return loc
	}
	return nil
}

// propTime parses a DTSTART/DTEND property. hasTime is false for
// date-only values, which take the configured default times.
func (p *Pipeline) propTime(prop *ical.IANAProperty, feedTZ *time.Location) (t time.Time, hasTime bool, err error) {
	v := strings.TrimSpace(prop.Value)

	if !strings.Contains(v, "T") {
		t, err = time.ParseInLocation("20060102", v, p.opts.Timezone)
		return t, false, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err = time.Parse("20060102T150405Z", v)
		return t, true, err
	}

	loc := p.opts.Timezone
	if feedTZ != nil {
		loc = feedTZ
	}
	if tzids := prop.ICalParameters["TZID"]; len(tzids) > 0 {
		if l, lerr := time.LoadLocation(tzids[0]); lerr == nil {
			loc = l
		}
	}
	t, err = time.ParseInLocation("20060102T150405", v, loc)
	return t, true, err
}

// combine builds an instant from a value's calendar date and a time of
// day in the configured zone.
func combine(t time.Time, hour, minute int, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
