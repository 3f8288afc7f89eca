package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rental-control/backend/internal/calendar"
	"github.com/rental-control/backend/internal/config"
	"github.com/rental-control/backend/internal/lock"
	"github.com/rental-control/backend/internal/override"
)

// fakeLock is an in-memory SlotController recording every call.
type fakeLock struct {
	mu    sync.Mutex
	slots map[int]lock.SlotState
	calls []string
}

func newFakeLock(startSlot, maxSlots int) *fakeLock {
	f := &fakeLock{slots: make(map[int]lock.SlotState)}
	for slot := startSlot; slot < startSlot+maxSlots; slot++ {
		f.slots[slot] = lock.SlotState{}
	}
	return f
}

func (f *fakeLock) ReadSlot(ctx context.Context, slot int) (lock.SlotState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.slots[slot]
	return st, ok, nil
}

func (f *fakeLock) SetSlotCode(ctx context.Context, slot int, code, name string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, e := start, end
	f.slots[slot] = lock.SlotState{
		Enabled:      true,
		Code:         code,
		Name:         name,
		RangeEnabled: true,
		Start:        &s,
		End:          &e,
	}
	f.calls = append(f.calls, "set")
	return nil
}

func (f *fakeLock) UpdateSlotTimes(ctx context.Context, slot int, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.slots[slot]
	s, e := start, end
	st.Start, st.End = &s, &e
	f.slots[slot] = st
	f.calls = append(f.calls, "update")
	return nil
}

func (f *fakeLock) ClearSlot(ctx context.Context, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot] = lock.SlotState{}
	f.calls = append(f.calls, "clear")
	return nil
}

func (f *fakeLock) state(slot int) lock.SlotState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slot]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = "Rental"
	cfg.MaxEvents = 2
	cfg.StartSlot = 10
	cfg.LockName = "frontdoor"
	cfg.RefreshFrequency = 2
	return cfg
}

func testFeed(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Test//EN"}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR", "")
	body := strings.Join(lines, "\r\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func booking(uid, guest, startDate, endDate string) string {
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:Reserved - " + guest,
		"DTSTART;VALUE=DATE:" + startDate,
		"DTEND;VALUE=DATE:" + endDate,
		"END:VEVENT",
	}, "\r\n")
}

func newTestCoordinator(t *testing.T, cfg *config.Config, feedURL string, locks *fakeLock, now time.Time) (*Coordinator, *override.Store) {
	t.Helper()

	store := override.NewStore(cfg.StartSlot, cfg.MaxEvents)
	checkinH, checkinM := cfg.CheckinTime()
	checkoutH, checkoutM := cfg.CheckoutTime()
	pipeline := calendar.NewPipeline(calendar.Options{
		URL:               feedURL,
		VerifyTLS:         true,
		Timezone:          cfg.Location(),
		CheckinHour:       checkinH,
		CheckinMinute:     checkinM,
		CheckoutHour:      checkoutH,
		CheckoutMinute:    checkoutM,
		Days:              cfg.Days,
		EventPrefix:       cfg.EventPrefix,
		IgnoreNonReserved: true,
		Overrides:         store,
	})

	coord := New(cfg, pipeline, store, locks, nil, nil, nil)
	coord.now = func() time.Time { return now }
	return coord, store
}

func TestTickAssignsBookingsToSlots(t *testing.T) {
	cfg := testConfig()
	feed := testFeed(t,
		booking("1", "Jane Doe", "20250310", "20250314"),
		booking("2", "John Smith", "20250320", "20250324"),
	)
	locks := newFakeLock(10, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	coord, store := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	if !store.Ready() {
		t.Fatal("store not ready after startup import")
	}

	jane := store.ByName("Jane Doe")
	if jane == nil {
		t.Fatal("Jane Doe has no override")
	}
	if jane.SlotCode != "1014" {
		t.Errorf("Jane Doe code = %q, want date-based 1014", jane.SlotCode)
	}
	john := store.ByName("John Smith")
	if john == nil {
		t.Fatal("John Smith has no override")
	}

	slotJane, _ := store.SlotByName("Jane Doe")
	slotJohn, _ := store.SlotByName("John Smith")
	if slotJane == slotJohn {
		t.Errorf("both bookings landed on slot %d", slotJane)
	}

	st := locks.state(slotJane)
	if !st.Enabled || st.Code != "1014" || st.Name != "Jane Doe" {
		t.Errorf("slot %d external state = %+v", slotJane, st)
	}
	if st.Start == nil || !st.Start.Equal(time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("slot %d start = %v", slotJane, st.Start)
	}

	status := coord.CurrentStatus()
	if !status.CalendarLoaded || !status.EventsReady || !status.OverridesReady {
		t.Errorf("status = %+v, want fully ready", status)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	cfg := testConfig()
	feed := testFeed(t, booking("1", "Jane Doe", "20250310", "20250314"))
	locks := newFakeLock(10, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	coord, _ := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	locks.mu.Lock()
	callsAfterFirst := len(locks.calls)
	locks.mu.Unlock()

	coord.RequestRefresh(context.Background())

	locks.mu.Lock()
	callsAfterSecond := len(locks.calls)
	locks.mu.Unlock()

	if callsAfterSecond != callsAfterFirst {
		t.Errorf("second tick performed %d extra slot calls", callsAfterSecond-callsAfterFirst)
	}
}

func TestTickHonorsRefreshCadence(t *testing.T) {
	cfg := testConfig()
	var fetches int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(strings.Join([]string{
			"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Test//EN",
			booking("1", "Jane Doe", "20250310", "20250314"),
			"END:VCALENDAR", "",
		}, "\r\n")))
	}))
	defer server.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	locks := newFakeLock(10, 2)
	coord, _ := newTestCoordinator(t, cfg, server.URL, locks, now)

	coord.Tick(context.Background())
	coord.Tick(context.Background())
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1: second tick inside the interval must not refetch", fetches)
	}

	coord.now = func() time.Time { return now.Add(3 * time.Minute) }
	coord.Tick(context.Background())
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 after the interval elapsed", fetches)
	}
}

func TestTickSweepsBetweenRefreshes(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshFrequency = 60
	feed := testFeed(t, booking("1", "Jane Doe", "20250310", "20250314"))
	locks := newFakeLock(10, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	coord, store := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	// An override for a long-gone guest appears between refreshes, as
	// after an external edit. The next tick falls inside the refresh
	// interval; the sweep must still run and clear it.
	store.Write(11, "9999", "Ghost Guest",
		time.Date(2025, 2, 10, 16, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 14, 11, 0, 0, 0, time.UTC), "")

	coord.Tick(context.Background())

	if ov := store.ByName("Ghost Guest"); ov != nil {
		t.Errorf("lapsed override survived an in-interval tick: %+v", ov)
	}
	locks.mu.Lock()
	cleared := false
	for _, call := range locks.calls {
		if call == "clear" {
			cleared = true
		}
	}
	locks.mu.Unlock()
	if !cleared {
		t.Error("lapsed override was not reset on the lock")
	}
}

func TestTickSweepsDepartedGuest(t *testing.T) {
	cfg := testConfig()
	feed := testFeed(t, booking("1", "John Smith", "20250320", "20250324"))
	locks := newFakeLock(10, 2)

	// Slot 10 still holds a guest who no longer appears in the feed.
	start := time.Date(2025, 2, 10, 16, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 14, 11, 0, 0, 0, time.UTC)
	locks.slots[10] = lock.SlotState{
		Enabled:      true,
		Code:         "1014",
		Name:         "Jane Doe",
		RangeEnabled: true,
		Start:        &start,
		End:          &end,
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	coord, store := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	if ov := store.ByName("Jane Doe"); ov != nil {
		t.Errorf("departed guest still holds an override: %+v", ov)
	}
	if st := locks.state(10); st.Name == "Jane Doe" {
		t.Error("departed guest still loaded on the lock")
	}
	if ov := store.ByName("John Smith"); ov == nil {
		t.Error("current guest not assigned")
	}
}

func TestHandleSlotChangeReset(t *testing.T) {
	cfg := testConfig()
	feed := testFeed(t, booking("1", "Jane Doe", "20250310", "20250314"))
	locks := newFakeLock(10, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	coord, store := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	slot, ok := store.SlotByName("Jane Doe")
	if !ok {
		t.Fatal("Jane Doe not assigned")
	}

	// Someone presses the slot's reset button in the collaborator UI.
	// The override clears, and the still-live booking is re-assigned on
	// the same pass.
	locks.slots[slot] = lock.SlotState{}
	coord.HandleSlotChange(context.Background(), lock.SlotChange{Slot: slot, Reset: true})

	newSlot, ok := store.SlotByName("Jane Doe")
	if !ok {
		t.Fatal("booking not re-assigned after external reset")
	}
	if st := locks.state(newSlot); st.Name != "Jane Doe" || !st.Enabled {
		t.Errorf("slot %d external state = %+v after re-assignment", newSlot, st)
	}
}

func TestHandleSlotChangeExternalEdit(t *testing.T) {
	cfg := testConfig()
	feed := testFeed(t, booking("1", "Jane Doe", "20250310", "20250314"))
	locks := newFakeLock(10, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	coord, store := newTestCoordinator(t, cfg, feed.URL, locks, now)
	coord.Tick(context.Background())

	slot, _ := store.SlotByName("Jane Doe")

	// The code is edited by hand on the collaborator side; the store
	// must adopt the observed value rather than fight it.
	st := locks.state(slot)
	st.Code = "9999"
	locks.mu.Lock()
	locks.slots[slot] = st
	locks.mu.Unlock()

	coord.HandleSlotChange(context.Background(), lock.SlotChange{Slot: slot})

	ov := store.BySlot(slot)
	if ov == nil {
		t.Fatal("override lost after external edit")
	}
	if ov.SlotCode != "9999" {
		t.Errorf("override code = %q, want adopted 9999", ov.SlotCode)
	}
}
