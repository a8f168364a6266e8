// Package sqlstore implements the record store and version log on top of
// database/sql. Drivers supply the connection and a Dialect.
package sqlstore

import (
	"circlereports/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	_ domain.Storage     = (*Store)(nil)
	_ domain.RecordStore = (*recordStore)(nil)
	_ domain.VersionLog  = (*versionLog)(nil)
)

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped-entry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps records in a records table and history rows in a history table,
// one row per version.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// New ensures the schema exists and returns a Store using db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure %s schema: %w", dialect.Name, err)
		}
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the statement dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Records returns the current-state view of the store.
func (s *Store) Records() domain.RecordStore { return (*recordStore)(s) }

// History returns the version log view of the store.
func (s *Store) History() domain.VersionLog { return (*versionLog)(s) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

type recordStore Store

func (r *recordStore) store() *Store { return (*Store)(r) }

func (r *recordStore) Load(ctx context.Context, name string) (domain.Record, error) {
	s := r.store()
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT payload FROM records WHERE name = ?`), name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound{Kind: domain.KindRecord, Name: name}
	}
	if err != nil {
		return nil, domain.StorageError{Op: "load", Name: name, Err: err}
	}
	rec, err := domain.DecodeRecord(payload)
	if err != nil {
		return nil, domain.MalformedError{Source: "records/" + name, Err: err}
	}
	return rec, nil
}

func (r *recordStore) Save(ctx context.Context, name string, rec domain.Record) error {
	s := r.store()
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.StorageError{Op: "encode", Name: name, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO records(name,payload) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET payload=excluded.payload`), name, payload); err != nil {
		return domain.StorageError{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (r *recordStore) Delete(ctx context.Context, name string) (bool, error) {
	s := r.store()
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM records WHERE name = ?`), name)
	if err != nil {
		return false, domain.StorageError{Op: "delete", Name: name, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageError{Op: "delete", Name: name, Err: err}
	}
	return n > 0, nil
}

func (r *recordStore) List(ctx context.Context) ([]string, error) {
	s := r.store()
	return s.names(ctx, `SELECT name FROM records ORDER BY name`)
}

func (s *Store) names(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query))
	if err != nil {
		return nil, domain.StorageError{Op: "list", Name: s.dialect.Name, Err: err}
	}
	defer func() { _ = rows.Close() }()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domain.StorageError{Op: "list", Name: s.dialect.Name, Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError{Op: "list", Name: s.dialect.Name, Err: err}
	}
	// collation order differs between engines
	sort.Strings(names)
	return names, nil
}

type versionLog Store

func (l *versionLog) store() *Store { return (*Store)(l) }

// Append computes the next version and inserts it in one transaction.
func (l *versionLog) Append(ctx context.Context, name string, before, after domain.Record) (*domain.VersionEntry, error) {
	s := l.store()
	if len(domain.Diff(before, after)) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageError{Op: "append history", Name: name, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var last int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(version), 0) FROM history WHERE name = ?`), name).Scan(&last); err != nil {
		return nil, domain.StorageError{Op: "append history", Name: name, Err: err}
	}
	entry, _ := domain.NewVersionEntry(name+".json", int(last)+1, before, after, s.now())
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, domain.StorageError{Op: "encode history", Name: name, Err: err}
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO history(name,version,payload) VALUES(?,?,?)`), name, entry.Version, payload); err != nil {
		return nil, domain.StorageError{Op: "append history", Name: name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.StorageError{Op: "commit history", Name: name, Err: err}
	}
	committed = true
	return &entry, nil
}

// Read returns the decodable entries in version order. Query failures are
// logged and reported as an empty history.
func (l *versionLog) Read(ctx context.Context, name string) ([]domain.VersionEntry, error) {
	s := l.store()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := []domain.VersionEntry{}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT version, payload FROM history WHERE name = ? ORDER BY version`), name)
	if err != nil {
		s.logger.Warn("history unreadable", "record", name, "error", err)
		return entries, nil
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var version int64
		var payload []byte
		if err := rows.Scan(&version, &payload); err != nil {
			s.logger.Warn("history read stopped early", "record", name, "error", err)
			return entries, nil
		}
		var entry domain.VersionEntry
		err := json.Unmarshal(payload, &entry)
		if err == nil {
			err = entry.Validate()
		}
		if err != nil {
			s.logger.Warn("skipping malformed history entry", "error", domain.MalformedError{Source: "history/" + name, Line: int(version), Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("history read stopped early", "record", name, "error", err)
	}
	return entries, nil
}

func (l *versionLog) Names(ctx context.Context) ([]string, error) {
	return l.store().names(ctx, `SELECT DISTINCT name FROM history ORDER BY name`)
}
