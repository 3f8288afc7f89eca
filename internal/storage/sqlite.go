// Package storage keeps the audit trail of calendar syncs and slot
// writes in a local SQLite file.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the open audit database.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the SQLite file at path. WAL mode
// keeps the diagnostic API's reads from blocking the coordinator's
// writes; the busy timeout covers the rest.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to audit database: %w", err)
	}

	// Small pool: one writer (the coordinator) plus diagnostic reads.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return &DB{DB: db}, nil
}
