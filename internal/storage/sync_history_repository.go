package storage

import (
	"context"
	"fmt"
	"time"
)

// SyncRecord is one completed calendar refresh attempt.
type SyncRecord struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	EventsFound int       `json:"events_found"`
	Error       *string   `json:"error,omitempty"`
}

// Sync status values.
const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncHistoryRepository provides data access for the calendar sync log.
type SyncHistoryRepository struct {
	BaseRepository
}

// NewSyncHistoryRepository creates a new sync history repository.
func NewSyncHistoryRepository(db *DB) *SyncHistoryRepository {
	return &SyncHistoryRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Record inserts a completed sync attempt.
func (r *SyncHistoryRepository) Record(ctx context.Context, rec *SyncRecord) error {
	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_history (started_at, finished_at, status, events_found, error)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.Status, rec.EventsFound, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting sync record: %w", err)
	}

	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sync record id: %w", err)
	}
	return nil
}

// ListRecent retrieves the most recent sync attempts, newest first.
func (r *SyncHistoryRepository) ListRecent(ctx context.Context, limit int) ([]SyncRecord, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, events_found, error
		FROM sync_history
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync history: %w", err)
	}
	defer rows.Close()

	var records []SyncRecord
	for rows.Next() {
		var rec SyncRecord
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.FinishedAt, &rec.Status,
			&rec.EventsFound, &rec.Error,
		); err != nil {
			return nil, fmt.Errorf("scanning sync record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Prune deletes sync records older than the cutoff.
func (r *SyncHistoryRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		DELETE FROM sync_history WHERE started_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sync history: %w", err)
	}
	return result.RowsAffected()
}
