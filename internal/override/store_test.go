package override

import (
	"testing"
	"time"
)

var (
	testStart = time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC)
)

func TestStoreReadiness(t *testing.T) {
	s := NewStore(10, 3)

	if s.Ready() {
		t.Fatal("store ready before any slot observed")
	}
	if _, ok := s.NextFreeSlot(); ok {
		t.Fatal("next free slot defined before all slots observed")
	}

	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")
	s.Write(11, "", "", time.Time{}, time.Time{}, "")
	if s.Ready() {
		t.Fatal("store ready with one slot unobserved")
	}

	s.Write(12, "", "", time.Time{}, time.Time{}, "")
	if !s.Ready() {
		t.Fatal("store not ready after all slots observed")
	}
}

func TestNextFreeSlotAdvancesPastWatermark(t *testing.T) {
	s := NewStore(10, 3)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")
	s.Write(11, "", "", time.Time{}, time.Time{}, "")
	s.Write(12, "", "", time.Time{}, time.Time{}, "")

	// Highest occupied is 10: prefer the smallest free slot above it.
	slot, ok := s.NextFreeSlot()
	if !ok || slot != 11 {
		t.Fatalf("NextFreeSlot() = %d, %v, want 11, true", slot, ok)
	}
}

func TestNextFreeSlotWrapsWhenNothingAbove(t *testing.T) {
	s := NewStore(10, 3)
	s.Write(10, "", "", time.Time{}, time.Time{}, "")
	s.Write(11, "", "", time.Time{}, time.Time{}, "")
	s.Write(12, "1234", "Jane Doe", testStart, testEnd, "")

	// Highest occupied is 12, nothing free above: wrap to the smallest
	// free slot in range.
	slot, ok := s.NextFreeSlot()
	if !ok || slot != 10 {
		t.Fatalf("NextFreeSlot() = %d, %v, want 10, true", slot, ok)
	}
}

func TestNextFreeSlotSkipsGapBelowWatermark(t *testing.T) {
	s := NewStore(10, 3)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")
	s.Write(11, "", "", time.Time{}, time.Time{}, "")
	s.Write(12, "5678", "John Smith", testStart, testEnd, "")

	// 11 is free but below the highest occupied slot is not preferred;
	// with nothing free above 12 the store wraps back to it.
	slot, ok := s.NextFreeSlot()
	if !ok || slot != 11 {
		t.Fatalf("NextFreeSlot() = %d, %v, want 11, true", slot, ok)
	}
}

func TestNextFreeSlotNoneWhenFull(t *testing.T) {
	s := NewStore(10, 2)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")
	s.Write(11, "5678", "John Smith", testStart, testEnd, "")

	if _, ok := s.NextFreeSlot(); ok {
		t.Fatal("NextFreeSlot() defined with every slot occupied")
	}
}

func TestWriteStripsEventPrefix(t *testing.T) {
	s := NewStore(10, 1)
	s.Write(10, "1234", "Cabin Jane Doe", testStart, testEnd, "Cabin")

	ov := s.BySlot(10)
	if ov == nil {
		t.Fatal("override not recorded")
	}
	if ov.SlotName != "Jane Doe" {
		t.Errorf("slot name = %q, want prefix stripped", ov.SlotName)
	}

	if slot, ok := s.SlotByName("Jane Doe"); !ok || slot != 10 {
		t.Errorf("SlotByName(Jane Doe) = %d, %v, want 10, true", slot, ok)
	}
}

func TestClearRecordsPlaceholder(t *testing.T) {
	s := NewStore(10, 2)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")
	s.Write(11, "", "", time.Time{}, time.Time{}, "")

	now := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)
	s.Clear(10, now)

	if ov := s.BySlot(10); ov != nil {
		t.Errorf("cleared slot still holds %+v", ov)
	}
	if ov := s.ByName("Jane Doe"); ov != nil {
		t.Error("cleared identity still resolvable")
	}
	if !s.Ready() {
		t.Error("clearing must not revoke readiness")
	}
}

func TestBySlotNameLookup(t *testing.T) {
	s := NewStore(10, 2)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")

	ov, ok := s.BySlotName("Jane Doe")
	if !ok {
		t.Fatal("BySlotName() did not find the override")
	}
	if ov.Code != "1234" || !ov.Start.Equal(testStart) || !ov.End.Equal(testEnd) {
		t.Errorf("BySlotName() = %+v", ov)
	}

	if _, ok := s.BySlotName("Nobody"); ok {
		t.Error("BySlotName() found an absent identity")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(10, 1)
	s.Write(10, "1234", "Jane Doe", testStart, testEnd, "")

	snap := s.Snapshot()
	snap[10].SlotName = "tampered"

	if ov := s.BySlot(10); ov.SlotName != "Jane Doe" {
		t.Error("mutating a snapshot leaked into the store")
	}
}
