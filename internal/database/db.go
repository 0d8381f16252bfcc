// Package database owns the sqlite connection, transactions and schema
// migrations for the settlement store.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeout is how long a writer waits on the sqlite lock before the
// driver reports SQLITE_BUSY to the retry layer.
const busyTimeout = 5 * time.Second

// Open opens the sqlite store at path. A single connection is kept so
// every transaction serializes on the one writer sqlite allows anyway.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// WithTx runs fn inside a transaction, rolling back on any error.
func WithTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Now returns UTC truncated to seconds, the resolution the store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
