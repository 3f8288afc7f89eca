// Package api provides HTTP routing and handlers for the diagnostic API.
package api

import (
	"github.com/gorilla/mux"

	"github.com/rental-control/backend/internal/api/handlers"
	"github.com/rental-control/backend/internal/api/middleware"
	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/storage"
	"github.com/rental-control/backend/internal/websocket"
)

// NewRouter creates and configures the HTTP router. The API is
// read-only apart from the manual sync trigger.
func NewRouter(
	db *storage.DB,
	hub *websocket.Hub,
	coord *coordinator.Coordinator,
	syncHistory *storage.SyncHistoryRepository,
	slotOps *storage.SlotOperationRepository,
) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(db, coord, hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(hub)).Methods("GET")

	// Calendar state
	api.HandleFunc("/events", handlers.ListEvents(coord)).Methods("GET")
	api.HandleFunc("/slots", handlers.ListEventSlots(coord)).Methods("GET")
	api.HandleFunc("/overrides", handlers.ListOverrides(coord)).Methods("GET")

	// Audit log and manual refresh
	api.HandleFunc("/history", handlers.History(syncHistory, slotOps)).Methods("GET")
	api.HandleFunc("/sync", handlers.TriggerSync(coord)).Methods("POST")

	return r
}
