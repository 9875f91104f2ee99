// Package database opens the PostgreSQL connection used as the strongly
// consistent transactional store backing the event log, idempotency
// ledger, and projections, mirroring the teacher's
// internal/platform/database/database.go.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Open establishes a PostgreSQL connection using dsn and verifies
// connectivity with a bounded ping. The returned *sql.DB must be closed by
// the caller.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database: postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping postgres: %w", err)
	}
	return db, nil
}

// ConfigurePool applies the connection-pool tuning expected for a
// transactional service: bounded open/idle connections and a recycle
// lifetime, so a stuck backend cannot exhaust the pool.
func ConfigurePool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}
}
