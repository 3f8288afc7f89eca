package sensor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// GenerateCode derives a door code for an event.
//
// Modes:
//   - "date_based": digits of the check-in/out dates, truncated or
//     zero-padded to length. Also the forced fallback whenever the
//     event has no description, since several platforms (VRBO among
//     them) never provide one.
//   - "last_four": the last four digits of the guest's phone number
//     from the description; only valid for 4-digit codes.
//   - "static_random": a PRNG seeded from the description, so the same
//     description always yields the same code.
//
// Any mode that fails to produce a code falls through to date_based.
// Date digits come from start/end as given; callers pass times in the
// property's timezone.
func GenerateCode(generator string, codeLength int, description *string, start, end time.Time) string {
	if description == nil {
		generator = "date_based"
	}

	switch generator {
	case "last_four":
		// Last-4 only makes sense when the code is exactly four digits.
		if codeLength == 4 {
			if code := extractLastFour(*description); code != "" {
				return code
			}
		}
	case "static_random":
		seed := descriptionSeed(*description)
		r := rand.New(rand.NewSource(seed))
		max := pow10(codeLength)
		return fmt.Sprintf("%0*d", codeLength, r.Intn(max-1)+1)
	}

	// Date-based generation: a date shift changes the code, which is
	// why date shifts cycle the slot.
	code := start.Format("02") + end.Format("02") +
		start.Format("01") + end.Format("01") +
		start.Format("2006") + end.Format("2006")

	if len(code) > codeLength {
		return code[:codeLength]
	}
	return fmt.Sprintf("%0*s", codeLength, code)
}

// descriptionSeed derives a stable PRNG seed from description text.
func descriptionSeed(description string) int64 {
	sum := sha256.Sum256([]byte(description))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// pow10 returns 10^n.
func pow10(n int) int {
	result := 1
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}
