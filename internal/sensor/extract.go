package sensor

import (
	"regexp"
	"strconv"
	"strings"
)

// Guest detail extraction from booking-platform descriptions. Airbnb
// provides a "Last 4 Digits" field; Guesty exports a phone number
// instead; VRBO and Tripadvisor provide neither.

var (
	lastFourRe = regexp.MustCompile(`\(?Last 4 Digits\)?:\s+(\d{4})`)
	emailRe    = regexp.MustCompile(`Email:\s+(\S+@\S+)`)
	phoneRe    = regexp.MustCompile(`Phone(?: Number)?:\s+(\+?[\d. \-()]{9,})`)
	guestsRe   = regexp.MustCompile(`(?m)Guests:\s+(\d+)$`)
	adultsRe   = regexp.MustCompile(`(?m)Adults:\s+(\d+)$`)
	childrenRe = regexp.MustCompile(`(?m)Children:\s+(\d+)$`)
	urlRe      = regexp.MustCompile(`(?m)(https?://.*)$`)
)

// extractLastFour returns the guest phone's last four digits, falling
// back to the tail of a full phone number when no explicit field
// exists.
func extractLastFour(description string) string {
	if m := lastFourRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	if strings.Contains(description, "Phone") {
		phone := strings.ReplaceAll(extractPhoneNumber(description), " ", "")
		if len(phone) >= 4 {
			return phone[len(phone)-4:]
		}
	}
	return ""
}

// extractPhoneNumber returns the guest phone number.
func extractPhoneNumber(description string) string {
	if m := phoneRe.FindStringSubmatch(description); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// extractEmail returns the guest email.
func extractEmail(description string) string {
	if m := emailRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}

// extractNumGuests returns the guest count, summing adults and
// children when only those are present.
func extractNumGuests(description string) string {
	if m := guestsRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	if strings.Contains(description, "Adults") {
		guests := 0
		if m := adultsRe.FindStringSubmatch(description); m != nil {
			n, _ := strconv.Atoi(m[1])
			guests = n
		}
		if m := childrenRe.FindStringSubmatch(description); m != nil {
			n, _ := strconv.Atoi(m[1])
			guests += n
		}
		if guests > 0 {
			return strconv.Itoa(guests)
		}
	}
	return ""
}

// extractURL returns the reservation URL.
func extractURL(description string) string {
	if m := urlRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}
