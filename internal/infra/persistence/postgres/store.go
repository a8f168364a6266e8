// Package postgres provides the PostgreSQL persistence driver. Records and
// history entries are stored as JSONB documents.
package postgres

import (
	"circlereports/internal/infra/persistence/sqlstore"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/circlereports?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a sqlstore.Store bound to a PostgreSQL database.
type Store struct {
	*sqlstore.Store
}

// NewStore connects using dsn (falls back to defaultDSN), verifies the
// connection and ensures the record and history tables exist.
func NewStore(ctx context.Context, dsn string, opts ...sqlstore.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, sqlstore.Postgres, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
