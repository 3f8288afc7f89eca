package storage

import (
	"context"
	"fmt"
	"time"
)

// SlotOperation is one write the service performed against a code
// slot, kept for troubleshooting.
type SlotOperation struct {
	ID        int64     `json:"id"`
	Slot      int       `json:"slot"`
	Operation string    `json:"operation"`
	SlotName  string    `json:"slot_name"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Slot operation values.
const (
	SlotOpAssign      = "assign"
	SlotOpUpdateTimes = "update_times"
	SlotOpClear       = "clear"
	SlotOpImport      = "import"
)

// SlotOperationRepository provides data access for the slot operation log.
type SlotOperationRepository struct {
	BaseRepository
}

// NewSlotOperationRepository creates a new slot operation repository.
func NewSlotOperationRepository(db *DB) *SlotOperationRepository {
	return &SlotOperationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Record inserts a slot operation.
func (r *SlotOperationRepository) Record(ctx context.Context, op *SlotOperation) error {
	op.CreatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO slot_operations (slot, operation, slot_name, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		op.Slot, op.Operation, op.SlotName, op.Detail, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting slot operation: %w", err)
	}

	op.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading slot operation id: %w", err)
	}
	return nil
}

// ListRecent retrieves the most recent slot operations, newest first.
func (r *SlotOperationRepository) ListRecent(ctx context.Context, limit int) ([]SlotOperation, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, slot, operation, slot_name, detail, created_at
		FROM slot_operations
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying slot operations: %w", err)
	}
	defer rows.Close()

	var ops []SlotOperation
	for rows.Next() {
		var op SlotOperation
		if err := rows.Scan(
			&op.ID, &op.Slot, &op.Operation, &op.SlotName, &op.Detail, &op.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning slot operation: %w", err)
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}
