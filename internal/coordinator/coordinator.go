// Package coordinator drives the refresh cycle: it periodically pulls
// the calendar feed, re-renders the event slots and reconciles the
// door-code slots on the managed lock against the current
// reservations.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rental-control/backend/internal/calendar"
	"github.com/rental-control/backend/internal/config"
	"github.com/rental-control/backend/internal/lock"
	"github.com/rental-control/backend/internal/override"
	"github.com/rental-control/backend/internal/sensor"
	"github.com/rental-control/backend/internal/storage"
	"github.com/rental-control/backend/internal/websocket"
)

// tickCadence is how often the coordinator wakes up. Whether a tick
// actually refreshes the feed is gated separately on the configured
// refresh frequency.
const tickCadence = "@every 10s"

// continuousFloor is the minimum refresh interval applied when the
// configured frequency is zero, to keep "continuous" from hammering
// the feed.
const continuousFloor = 10 * time.Second

// SlotController is the slice of the lock client the coordinator
// drives. Satisfied by *lock.Client.
type SlotController interface {
	ReadSlot(ctx context.Context, slot int) (lock.SlotState, bool, error)
	SetSlotCode(ctx context.Context, slot int, code, name string, start, end time.Time) error
	UpdateSlotTimes(ctx context.Context, slot int, start, end time.Time) error
	ClearSlot(ctx context.Context, slot int) error
}

// Coordinator owns the event sensors and the override store and is the
// only writer to both. All slot I/O decided by a render is executed
// here.
type Coordinator struct {
	mu sync.Mutex

	cfg      *config.Config
	pipeline *calendar.Pipeline
	store    *override.Store
	lock     SlotController
	sensors  []*sensor.EventSensor

	syncHistory *storage.SyncHistoryRepository
	slotOps     *storage.SlotOperationRepository
	broadcaster *websocket.EventBroadcaster

	nextRefresh time.Time
	eventsReady bool

	now func() time.Time
}

// New creates a coordinator. store and slots are nil when no lock is
// managed; the audit repositories and broadcaster are optional.
func New(
	cfg *config.Config,
	pipeline *calendar.Pipeline,
	store *override.Store,
	slots SlotController,
	syncHistory *storage.SyncHistoryRepository,
	slotOps *storage.SlotOperationRepository,
	broadcaster *websocket.EventBroadcaster,
) *Coordinator {
	sensors := make([]*sensor.EventSensor, cfg.MaxEvents)
	for i := range sensors {
		sensors[i] = sensor.NewEventSensor(cfg.Name, cfg.EventPrefix, cfg.CodeGeneration, cfg.CodeLength, i, cfg.Location())
	}

	return &Coordinator{
		cfg:         cfg,
		pipeline:    pipeline,
		store:       store,
		lock:        slots,
		sensors:     sensors,
		syncHistory: syncHistory,
		slotOps:     slotOps,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Run ticks the coordinator on its cadence until the context is
// cancelled. An immediate first tick pulls the calendar at startup.
func (c *Coordinator) Run(ctx context.Context) error {
	c.Tick(ctx)

	cr := cron.New()
	if _, err := cr.AddFunc(tickCadence, func() { c.Tick(ctx) }); err != nil {
		return fmt.Errorf("scheduling ticks: %w", err)
	}
	cr.Start()

	<-ctx.Done()
	stopped := cr.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// Tick runs one coordinator cycle: import any not-yet-observed slots,
// refresh the feed if due, re-render the sensors and sweep stale
// overrides. Only the fetch is interval-gated; render and sweep run on
// every tick so overrides that lapse between refreshes are still
// cleared. Recoverable failures are logged and retried on the next
// tick.
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if c.store != nil && !c.store.Ready() {
		c.importSlots(ctx, now)
	}

	if !now.Before(c.nextRefresh) {
		interval := time.Duration(c.cfg.RefreshFrequency) * time.Minute
		if interval <= 0 {
			interval = continuousFloor
		}
		c.nextRefresh = now.Add(interval)

		started := now
		err := c.pipeline.Refresh(ctx, now)
		c.recordSync(ctx, started, err)
		if err != nil {
			log.Printf("Calendar refresh failed: %v", err)
			if c.broadcaster != nil {
				c.broadcaster.BroadcastSyncError(c.cfg.Name, err)
			}
		} else if c.broadcaster != nil {
			c.broadcaster.BroadcastSyncCompleted(c.cfg.Name, len(c.pipeline.Events()), c.nextRefresh)
		}
	}

	c.render(ctx, now)
	c.sweep(ctx, now)
}

// RequestRefresh forces the next tick to refresh the feed regardless
// of cadence, then runs a tick.
func (c *Coordinator) RequestRefresh(ctx context.Context) {
	c.mu.Lock()
	c.nextRefresh = time.Time{}
	c.mu.Unlock()

	c.Tick(ctx)
}

// HandleSlotChange reconciles an externally observed slot edit. A
// reset records a cleared placeholder directly; any other change
// re-reads the slot and records what is actually there now.
func (c *Coordinator) HandleSlotChange(ctx context.Context, change lock.SlotChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return
	}

	now := c.now().In(c.cfg.Location())

	if change.Reset {
		log.Printf("Slot %d reset externally", change.Slot)
		c.store.Clear(change.Slot, now)
		if c.broadcaster != nil {
			c.broadcaster.BroadcastSlotExternalChange(change.Slot, "reset")
		}
		c.render(ctx, c.now())
		c.sweep(ctx, c.now())
		return
	}

	st, ok, err := c.lock.ReadSlot(ctx, change.Slot)
	if err != nil {
		log.Printf("Re-reading changed slot %d: %v", change.Slot, err)
		return
	}
	if !ok {
		return
	}
	// Disabled slots churn entity states while being written; only
	// settled, enabled state is adopted.
	if !st.Enabled {
		return
	}

	start, end := slotWindow(st, now)
	c.store.Write(change.Slot, st.Code, st.Name, start, end, c.cfg.EventPrefix)
	if c.broadcaster != nil {
		c.broadcaster.BroadcastSlotExternalChange(change.Slot, "updated")
	}

	c.render(ctx, c.now())
	c.sweep(ctx, c.now())
}

// Events returns the current reservation event list.
func (c *Coordinator) Events() []calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline.Events()
}

// Overrides returns a snapshot of the override table, nil when no lock
// is managed.
func (c *Coordinator) Overrides() map[int]*override.Override {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Snapshot()
}

// Status summarizes the coordinator's readiness for diagnostics.
type Status struct {
	CalendarLoaded bool      `json:"calendar_loaded"`
	EventsReady    bool      `json:"events_ready"`
	OverridesReady bool      `json:"overrides_ready"`
	EventsFound    int       `json:"events_found"`
	NextRefresh    time.Time `json:"next_refresh"`
}

// CurrentStatus returns the coordinator's readiness snapshot.
func (c *Coordinator) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		CalendarLoaded: c.pipeline.Loaded(),
		EventsReady:    c.eventsReady,
		OverridesReady: c.store == nil || c.store.Ready(),
		EventsFound:    len(c.pipeline.Events()),
		NextRefresh:    c.nextRefresh,
	}
	return st
}

// Sensors returns the rendered event slots.
func (c *Coordinator) Sensors() []*sensor.EventSensor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensors
}

// importSlots reads the external state of every not-yet-observed slot
// into the override store. Slots whose entities are missing or
// unavailable are skipped and retried next tick.
func (c *Coordinator) importSlots(ctx context.Context, now time.Time) {
	if c.lock == nil {
		return
	}

	observed := c.store.Snapshot()
	local := now.In(c.cfg.Location())

	for slot := c.store.StartSlot(); slot < c.store.StartSlot()+c.store.MaxSlots(); slot++ {
		if _, ok := observed[slot]; ok {
			continue
		}

		st, ok, err := c.lock.ReadSlot(ctx, slot)
		if err != nil {
			log.Printf("Importing slot %d: %v", slot, err)
			continue
		}
		if !ok {
			continue
		}

		start, end := slotWindow(st, local)
		c.store.Write(slot, st.Code, st.Name, start, end, c.cfg.EventPrefix)
		c.recordOp(ctx, slot, storage.SlotOpImport, st.Name, "")
	}

	if c.store.Ready() {
		log.Printf("All %d slot overrides imported", c.store.MaxSlots())
	}
}

// render updates every event sensor against the current calendar and
// executes the slot work each render decides on.
func (c *Coordinator) render(ctx context.Context, now time.Time) {
	if !c.pipeline.Loaded() {
		return
	}

	events := c.pipeline.Events()

	for _, s := range c.sensors {
		intent := s.Update(events, c.store, c.cfg.ShouldUpdateCode, now)

		// A cycle resets the held slot first; the re-render then sees
		// the identity unassigned and requests a fresh assignment.
		if intent.CycleSlot != 0 {
			c.clearSlot(ctx, intent.CycleSlot, s.SlotName(), "code cycle after date change", now)
			intent = s.Update(events, c.store, c.cfg.ShouldUpdateCode, now)
		}

		switch {
		case intent.Assign:
			c.assignSlot(ctx, s)
		case intent.UpdateSlot != 0:
			c.updateSlotTimes(ctx, s, intent.UpdateSlot)
		}
	}

	if !c.eventsReady {
		ready := true
		for _, s := range c.sensors {
			if !s.Available() {
				ready = false
				break
			}
		}
		// Sticky: once every slot has rendered, sweeping stays armed.
		c.eventsReady = ready
	}
}

// assignSlot pushes a sensor's reservation to the next free slot.
func (c *Coordinator) assignSlot(ctx context.Context, s *sensor.EventSensor) {
	if c.lock == nil || c.store == nil {
		return
	}

	slot, ok := c.store.NextFreeSlot()
	if !ok {
		log.Printf("No free slot for %q, deferring", s.SlotName())
		return
	}

	attrs := s.Attributes()
	if attrs.SlotCode == nil || attrs.Start == nil || attrs.End == nil {
		return
	}
	code := *attrs.SlotCode
	name := s.SlotName()

	displayName := name
	if c.cfg.EventPrefix != "" {
		displayName = c.cfg.EventPrefix + " " + name
	}

	if err := c.lock.SetSlotCode(ctx, slot, code, displayName, *attrs.Start, *attrs.End); err != nil {
		log.Printf("Assigning slot %d to %q: %v", slot, name, err)
		return
	}

	c.store.Write(slot, code, name, attrs.Start.UTC(), attrs.End.UTC(), "")
	log.Printf("Assigned slot %d to %q", slot, name)

	c.recordOp(ctx, slot, storage.SlotOpAssign, name, "")
	if c.broadcaster != nil {
		c.broadcaster.BroadcastSlotAssigned(slot, name)
	}
}

// updateSlotTimes pushes a date-range-only change for a reservation
// whose slot and code are already in place.
func (c *Coordinator) updateSlotTimes(ctx context.Context, s *sensor.EventSensor, slot int) {
	if c.lock == nil || c.store == nil {
		return
	}

	attrs := s.Attributes()
	if attrs.Start == nil || attrs.End == nil {
		return
	}
	ov := c.store.BySlot(slot)
	if ov == nil {
		return
	}

	if err := c.lock.UpdateSlotTimes(ctx, slot, *attrs.Start, *attrs.End); err != nil {
		log.Printf("Updating times on slot %d: %v", slot, err)
		return
	}

	c.store.Write(slot, ov.SlotCode, ov.SlotName, attrs.Start.UTC(), attrs.End.UTC(), "")
	log.Printf("Updated times on slot %d (%s)", slot, ov.SlotName)

	c.recordOp(ctx, slot, storage.SlotOpUpdateTimes, ov.SlotName, "")
	if c.broadcaster != nil {
		c.broadcaster.BroadcastSlotUpdated(slot, ov.SlotName, "date range")
	}
}

// sweep clears overrides that no longer correspond to a live
// reservation. It never runs before the calendar has loaded and every
// event slot has rendered: clearing on incomplete data would discard
// valid assignments.
func (c *Coordinator) sweep(ctx context.Context, now time.Time) {
	if c.store == nil || !c.pipeline.Loaded() || !c.eventsReady {
		return
	}

	liveNames := make([]string, 0, len(c.sensors))
	for _, s := range c.sensors {
		if name := s.SlotName(); name != "" {
			liveNames = append(liveNames, name)
		}
	}

	local := now.In(c.cfg.Location())
	stale := c.store.SweepDecision(c.pipeline.Events(), c.cfg.MaxEvents, liveNames, local)
	for _, slot := range stale {
		name := ""
		if ov := c.store.BySlot(slot); ov != nil {
			name = ov.SlotName
		}
		c.clearSlot(ctx, slot, name, "stale override", now)
	}
}

// clearSlot resets a slot externally and records the cleared
// placeholder.
func (c *Coordinator) clearSlot(ctx context.Context, slot int, name, detail string, now time.Time) {
	if c.lock != nil {
		if err := c.lock.ClearSlot(ctx, slot); err != nil {
			log.Printf("Clearing slot %d: %v", slot, err)
			return
		}
	}
	c.store.Clear(slot, now.In(c.cfg.Location()))

	c.recordOp(ctx, slot, storage.SlotOpClear, name, detail)
	if c.broadcaster != nil {
		c.broadcaster.BroadcastSlotCleared(slot, name, detail)
	}
}

// recordSync appends a sync attempt to the audit log.
func (c *Coordinator) recordSync(ctx context.Context, started time.Time, syncErr error) {
	if c.syncHistory == nil {
		return
	}

	rec := storage.SyncRecord{
		StartedAt:   started,
		FinishedAt:  c.now(),
		Status:      storage.SyncStatusSuccess,
		EventsFound: len(c.pipeline.Events()),
	}
	if syncErr != nil {
		msg := syncErr.Error()
		rec.Status = storage.SyncStatusError
		rec.Error = &msg
	}

	if err := c.syncHistory.Record(ctx, &rec); err != nil {
		log.Printf("Recording sync history: %v", err)
	}
}

// recordOp appends a slot operation to the audit log.
func (c *Coordinator) recordOp(ctx context.Context, slot int, operation, name, detail string) {
	if c.slotOps == nil {
		return
	}

	op := storage.SlotOperation{
		Slot:      slot,
		Operation: operation,
		SlotName:  name,
		Detail:    detail,
	}
	if err := c.slotOps.Record(ctx, &op); err != nil {
		log.Printf("Recording slot operation: %v", err)
	}
}

// slotWindow derives an override window from an observed slot state.
// Slots without a readable date range get a one-day window anchored at
// the start of the local day.
func slotWindow(st lock.SlotState, local time.Time) (time.Time, time.Time) {
	if st.RangeEnabled && st.Start != nil && st.End != nil {
		return st.Start.UTC(), st.End.UTC()
	}
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return day, day.AddDate(0, 0, 1)
}
