// Package store opens the repaired database through database/sql and pairs
// the pool with the Dialect that renders SQL for it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // register the pure-Go sqlite driver

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// driverNames maps a dialect to its registered database/sql driver.
var driverNames = map[string]string{
	types.DialectPostgres: "pgx",
	types.DialectSQLite:   "sqlite",
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the function used to open connections. It returns a
// restore function. Intended for tests.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Open connects to the store named by cfg, verifies the connection and sizes
// the pool. The caller owns the returned *sql.DB.
func Open(ctx context.Context, cfg types.Config) (*sql.DB, schema.Dialect, error) {
	dialect, err := schema.ForName(cfg.Dialect)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DSN == "" {
		return nil, nil, types.ErrDSNEmpty
	}

	openMu.Lock()
	db, err := sqlOpen(driverNames[cfg.Dialect], cfg.DSN)
	openMu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
	}

	switch cfg.Dialect {
	case types.DialectSQLite:
		// SQLite admits a single writer; units queue on the pool instead of
		// failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	default:
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", cfg.Dialect, err)
	}
	return db, dialect, nil
}

// Migrate creates the fixed tables if they are missing.
func Migrate(ctx context.Context, db *sql.DB, d schema.Dialect) error {
	for _, def := range schema.FixedTables() {
		if _, err := db.ExecContext(ctx, def.CreateSQL(d)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}
