package calendar

import (
	"regexp"
	"strings"
)

// Reservation identity is derived from the event summary/description
// by trying a fixed priority order of booking-platform conventions.
// Adding support for a new platform means adding a table entry, not a
// new branch.

var blockedRe = regexp.MustCompile(`Not available|Blocked`)

var (
	airbnbCodeRe      = regexp.MustCompile(`[A-Z][A-Z0-9]{9}`)
	reservedSuffixRe  = regexp.MustCompile(` - (.*)$`)
	tripadvisorRe     = regexp.MustCompile(`Tripadvisor.*: (.*)`)
	bookingClosedRe   = regexp.MustCompile(`\s*CLOSED - (.*)`)
	guestyReservedRe  = regexp.MustCompile(`^Reservation (.*)`)
	guestyDelimitedRe = regexp.MustCompile(`-(.*)-.*-`)
)

// slotNamePattern is one platform convention. extract reports handled
// when the entry takes ownership of the decision; value and ok are
// only meaningful in that case. An unhandled entry lets the cascade
// continue.
type slotNamePattern struct {
	platform string
	extract  func(name, description string) (value string, ok, handled bool)
}

var slotNamePatterns = []slotNamePattern{
	// Airbnb: a bare "Reserved" summary with the confirmation code
	// embedded in the description.
	{platform: "airbnb", extract: func(name, description string) (string, bool, bool) {
		if name != "Reserved" {
			return "", false, false
		}
		if description != "" {
			if m := airbnbCodeRe.FindString(description); m != "" {
				return strings.TrimSpace(m), true, true
			}
		}
		return "", false, true
	}},
	// Airbnb / VRBO: guest name after a " - " delimiter.
	{platform: "reserved-suffix", extract: func(name, description string) (string, bool, bool) {
		if !strings.Contains(name, "Reserved") {
			return "", false, false
		}
		if m := reservedSuffixRe.FindStringSubmatch(name); m != nil {
			return strings.TrimSpace(m[1]), true, true
		}
		return "", false, false
	}},
	// Tripadvisor: "Tripadvisor <listing>: <guest>".
	{platform: "tripadvisor", extract: func(name, description string) (string, bool, bool) {
		if !strings.Contains(name, "Tripadvisor") {
			return "", false, false
		}
		if m := tripadvisorRe.FindStringSubmatch(name); m != nil {
			return strings.TrimSpace(m[1]), true, true
		}
		return "", false, false
	}},
	// Booking.com: "CLOSED - <guest>".
	{platform: "booking.com", extract: func(name, description string) (string, bool, bool) {
		if !strings.Contains(name, "CLOSED") {
			return "", false, false
		}
		if m := bookingClosedRe.FindStringSubmatch(name); m != nil {
			return strings.TrimSpace(m[1]), true, true
		}
		return "", false, false
	}},
	// Guesty API: "Reservation <guest>".
	{platform: "guesty-api", extract: func(name, description string) (string, bool, bool) {
		if m := guestyReservedRe.FindStringSubmatch(name); m != nil {
			return strings.TrimSpace(m[1]), true, true
		}
		return "", false, false
	}},
	// Guesty calendar export: guest name between dash delimiters.
	{platform: "guesty", extract: func(name, description string) (string, bool, bool) {
		if m := guestyDelimitedRe.FindStringSubmatch(name); m != nil {
			return strings.TrimSpace(m[1]), true, true
		}
		return "", false, false
	}},
}

// ExtractSlotName derives the canonical reservation identity for an
// event. ok is false for blocked/unavailable entries, which represent
// non-reservations.
//
// When no platform convention matches, the trimmed summary itself is
// returned. That fallback can produce the same identity for unrelated
// bookings; such feeds are custom calendars and the collision is an
// accepted limitation.
func ExtractSlotName(summary, description, prefix string) (string, bool) {
	name := summary

	// Strip the configured prefix when present. A missing prefix is
	// config drift, not an error; use the summary unmodified.
	if prefix != "" && strings.HasPrefix(summary, prefix+" ") {
		name = summary[len(prefix)+1:]
	}

	if blockedRe.MatchString(name) {
		return "", false
	}

	for _, p := range slotNamePatterns {
		if value, ok, handled := p.extract(name, description); handled {
			return value, ok
		}
	}

	return strings.TrimSpace(name), true
}
