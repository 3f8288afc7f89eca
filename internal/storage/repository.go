package storage

import "time"

// BaseRepository carries the shared connection for the audit
// repositories.
type BaseRepository struct {
	db *DB
}

// NewBaseRepository wraps the given connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB returns the underlying connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current UTC time for row timestamps.
func (r *BaseRepository) Now() time.Time {
	return time.Now().UTC()
}
