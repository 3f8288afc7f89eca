// Package handlers provides HTTP request handlers for the diagnostic API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/storage"
	"github.com/rental-control/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string             `json:"status"`
	DBConnected    bool               `json:"db_connected"`
	Coordinator    coordinator.Status `json:"coordinator"`
	ConnectedPeers int                `json:"connected_peers"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB, coord *coordinator.Coordinator, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil
		st := coord.CurrentStatus()

		status := "healthy"
		if !dbConnected || !st.CalendarLoaded {
			status = "degraded"
		}

		response := HealthResponse{
			Status:         status,
			DBConnected:    dbConnected,
			Coordinator:    st,
			ConnectedPeers: hub.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}
