package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rental-control/backend/internal/api/middleware"
	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/storage"
)

const defaultHistoryLimit = 50

// HistoryResponse bundles the recent sync attempts and slot
// operations.
type HistoryResponse struct {
	Syncs      []storage.SyncRecord    `json:"syncs"`
	Operations []storage.SlotOperation `json:"operations"`
}

// History returns a handler serving the recent audit log.
func History(syncs *storage.SyncHistoryRepository, ops *storage.SlotOperationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		syncRecords, err := syncs.ListRecent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		opRecords, err := ops.ListRecent(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		response := HistoryResponse{
			Syncs:      syncRecords,
			Operations: opRecords,
		}
		if response.Syncs == nil {
			response.Syncs = []storage.SyncRecord{}
		}
		if response.Operations == nil {
			response.Operations = []storage.SlotOperation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// TriggerSync returns a handler that forces an immediate calendar
// refresh.
func TriggerSync(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coord.RequestRefresh(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(coord.CurrentStatus())
	}
}
