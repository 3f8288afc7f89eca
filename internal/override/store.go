// Package override maintains the reconciliation engine's record of
// what each door-code slot currently represents.
package override

import (
	"sort"
	"strings"
	"time"

	"github.com/rental-control/backend/internal/calendar"
)

// Override is one slot's current assignment: the reservation identity
// it holds, the PIN last pushed or observed, and the effective
// validity window (UTC).
type Override struct {
	SlotName string
	SlotCode string
	Start    time.Time
	End      time.Time
}

// Store is the override table for one managed slot range. Entries are
// created lazily as each slot's external state is first observed; a
// cleared slot is represented by a nil entry, never removed. Updates
// swap in a fresh map snapshot so readers never observe partial
// mutation.
type Store struct {
	startSlot int
	maxSlots  int

	overrides map[int]*Override
	nextSlot  int
	hasNext   bool
	ready     bool
}

// NewStore creates a store managing slots
// [startSlot, startSlot+maxSlots).
func NewStore(startSlot, maxSlots int) *Store {
	return &Store{
		startSlot: startSlot,
		maxSlots:  maxSlots,
		overrides: make(map[int]*Override),
	}
}

// StartSlot returns the first managed slot number.
func (s *Store) StartSlot() int { return s.startSlot }

// MaxSlots returns the managed slot count.
func (s *Store) MaxSlots() int { return s.maxSlots }

// Ready reports whether every slot in range has a recorded entry,
// cleared placeholders included. It transitions false to true once
// the startup import completes and never reverts.
func (s *Store) Ready() bool { return s.ready }

// NextFreeSlot returns the cached assignment candidate. ok is false
// while the system is starting up or when every slot is occupied.
func (s *Store) NextFreeSlot() (int, bool) {
	return s.nextSlot, s.hasNext
}

// Write upserts a slot's override. An empty name records a cleared
// placeholder. The configured event prefix, when present on the
// observed name, is stripped to recover the canonical identity.
func (s *Store) Write(slot int, code, name string, start, end time.Time, prefix string) {
	next := make(map[int]*Override, len(s.overrides)+1)
	for k, v := range s.overrides {
		next[k] = v
	}

	if name != "" {
		if prefix != "" && strings.HasPrefix(name, prefix+" ") {
			name = name[len(prefix)+1:]
		}
		next[slot] = &Override{
			SlotName: name,
			SlotCode: code,
			Start:    start,
			End:      end,
		}
	} else {
		next[slot] = nil
	}

	s.overrides = next
	s.assignNextSlot()
	if len(next) == s.maxSlots {
		s.ready = true
	}
}

// Clear overwrites a slot with a cleared placeholder anchored at the
// start of the given local day.
func (s *Store) Clear(slot int, now time.Time) {
	day := startOfDay(now)
	s.Write(slot, "", "", day, day, "")
}

// BySlot returns the slot's override, nil when the slot is cleared or
// not yet observed.
func (s *Store) BySlot(slot int) *Override {
	if ov, ok := s.overrides[slot]; ok && ov != nil {
		o := *ov
		return &o
	}
	return nil
}

// ByName returns the first occupied slot holding the given identity.
func (s *Store) ByName(name string) *Override {
	for _, slot := range s.occupiedSlots() {
		if ov := s.overrides[slot]; ov != nil && ov.SlotName == name {
			o := *ov
			return &o
		}
	}
	return nil
}

// SlotByName returns the slot number holding the given identity.
func (s *Store) SlotByName(name string) (int, bool) {
	for _, slot := range s.occupiedSlots() {
		if ov := s.overrides[slot]; ov != nil && ov.SlotName == name {
			return slot, true
		}
	}
	return 0, false
}

// BySlotName implements calendar.OverrideLookup.
func (s *Store) BySlotName(name string) (calendar.SlotOverride, bool) {
	ov := s.ByName(name)
	if ov == nil {
		return calendar.SlotOverride{}, false
	}
	return calendar.SlotOverride{
		Code:  ov.SlotCode,
		Start: ov.Start,
		End:   ov.End,
	}, true
}

// Snapshot returns a copy of the current table for diagnostics.
func (s *Store) Snapshot() map[int]*Override {
	out := make(map[int]*Override, len(s.overrides))
	for k, v := range s.overrides {
		if v != nil {
			o := *v
			out[k] = &o
		} else {
			out[k] = nil
		}
	}
	return out
}

// assignNextSlot recomputes the assignment candidate. The smallest
// free slot above the highest occupied one is preferred so assignment
// advances through the range before wrapping; a slot that was just
// freed is not immediately re-collided with.
func (s *Store) assignNextSlot() {
	s.hasNext = false

	// Not every slot observed yet: no well-defined next slot.
	if len(s.overrides) != s.maxSlots {
		return
	}

	occupied := s.occupiedSlots()
	if len(occupied) == s.maxSlots {
		return
	}

	watermark := s.startSlot - 1
	if len(occupied) > 0 {
		watermark = occupied[len(occupied)-1]
	}

	if free := s.freeSlotsAbove(watermark); len(free) > 0 {
		s.nextSlot = free[0]
		s.hasNext = true
		return
	}

	// Nothing free above the watermark: wrap to the smallest free slot
	// anywhere in range.
	if free := s.freeSlotsAbove(s.startSlot - 1); len(free) > 0 {
		s.nextSlot = free[0]
		s.hasNext = true
	}
}

// occupiedSlots returns the sorted slot numbers with a non-nil entry.
func (s *Store) occupiedSlots() []int {
	slots := make([]int, 0, len(s.overrides))
	for k, v := range s.overrides {
		if v != nil {
			slots = append(slots, k)
		}
	}
	sort.Ints(slots)
	return slots
}

// freeSlotsAbove returns the sorted cleared slot numbers strictly
// greater than floor.
func (s *Store) freeSlotsAbove(floor int) []int {
	slots := make([]int, 0, len(s.overrides))
	for k, v := range s.overrides {
		if v == nil && k > floor {
			slots = append(slots, k)
		}
	}
	sort.Ints(slots)
	return slots
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
