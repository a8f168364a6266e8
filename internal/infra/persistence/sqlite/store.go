// Package sqlite provides the embedded SQLite persistence driver.
package sqlite

import (
	"circlereports/internal/infra/persistence/sqlstore"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "circlereports.db"

// Store is a sqlstore.Store bound to a SQLite database file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path and ensures the
// record and history tables exist.
func NewStore(ctx context.Context, path string, opts ...sqlstore.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.New(ctx, db, sqlstore.SQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
