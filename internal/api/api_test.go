package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rental-control/backend/internal/calendar"
	"github.com/rental-control/backend/internal/config"
	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/storage"
	"github.com/rental-control/backend/internal/websocket"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Join([]string{
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//Test//Test//EN",
			"BEGIN:VEVENT",
			"UID:1",
			"SUMMARY:Reserved - Jane Doe",
			"DTSTART;VALUE=DATE:20991210",
			"DTEND;VALUE=DATE:20991214",
			"END:VEVENT",
			"END:VCALENDAR",
			"",
		}, "\r\n")))
	}))
	t.Cleanup(feed.Close)

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.URL = feed.URL
	cfg.Days = 40000

	checkinH, checkinM := cfg.CheckinTime()
	checkoutH, checkoutM := cfg.CheckoutTime()
	pipeline := calendar.NewPipeline(calendar.Options{
		URL:               cfg.URL,
		VerifyTLS:         true,
		Timezone:          cfg.Location(),
		CheckinHour:       checkinH,
		CheckinMinute:     checkinM,
		CheckoutHour:      checkoutH,
		CheckoutMinute:    checkoutM,
		Days:              cfg.Days,
		IgnoreNonReserved: true,
	})

	hub := websocket.NewHub()
	go hub.Run()

	syncHistory := storage.NewSyncHistoryRepository(db)
	slotOps := storage.NewSlotOperationRepository(db)
	coord := coordinator.New(cfg, pipeline, nil, nil, syncHistory, slotOps, websocket.NewEventBroadcaster(hub))

	router := NewRouter(db, hub, coord, syncHistory, slotOps)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestSyncThenReadEndpoints(t *testing.T) {
	server := testServer(t)

	resp, err := http.Post(server.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("sync status = %d, want 202", resp.StatusCode)
	}

	var status coordinator.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding sync response: %v", err)
	}
	if !status.CalendarLoaded || status.EventsFound != 1 {
		t.Errorf("status = %+v, want loaded with one event", status)
	}

	resp, err = http.Get(server.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	var events []calendar.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "Reserved - Jane Doe" {
		t.Errorf("events = %+v", events)
	}

	resp, err = http.Get(server.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()
	var history struct {
		Syncs []storage.SyncRecord `json:"syncs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(history.Syncs) != 1 || history.Syncs[0].Status != storage.SyncStatusSuccess {
		t.Errorf("history = %+v, want one successful sync", history.Syncs)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t)

	// Before any sync the calendar is unloaded and health is degraded.
	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health before sync = %d, want 503", resp.StatusCode)
	}

	if _, err := http.Post(server.URL+"/api/sync", "application/json", nil); err != nil {
		t.Fatalf("POST /api/sync: %v", err)
	}

	resp, err = http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health after sync = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q, want healthy", health.Status)
	}
}

func TestOverridesWithoutLock(t *testing.T) {
	server := testServer(t)

	resp, err := http.Get(server.URL + "/api/overrides")
	if err != nil {
		t.Fatalf("GET /api/overrides: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("overrides without a lock = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	server := testServer(t)

	resp, err := http.Get(server.URL + "/api/history?limit=0")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}
