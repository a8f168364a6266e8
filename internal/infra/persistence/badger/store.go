// Package badger provides an embedded key-value persistence driver. Records
// live under rec/<name>; history entries under log/<name>/<version>, with the
// version zero-padded so key order matches version order.
package badger

import (
	"circlereports/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	recordPrefix  = "rec/"
	historyPrefix = "log/"
)

var (
	_ domain.Storage     = (*Store)(nil)
	_ domain.RecordStore = (*recordStore)(nil)
	_ domain.VersionLog  = (*versionLog)(nil)
)

// Config configures the database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string
	// InMemory keeps everything in memory; nothing is written to disk.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal log output and skipped-entry warnings.
	Logger *slog.Logger
	// Now overrides the entry timestamp source.
	Now func() time.Time
}

// DefaultConfig returns a durable on-disk configuration for path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store keeps records and history in one badger database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, logger: logger, now: now}, nil
}

// DB exposes the underlying database for tests.
func (s *Store) DB() *badger.DB { return s.db }

// Records returns the current-state view of the store.
func (s *Store) Records() domain.RecordStore { return (*recordStore)(s) }

// History returns the version log view of the store.
func (s *Store) History() domain.VersionLog { return (*versionLog)(s) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func recordKey(name string) []byte { return []byte(recordPrefix + name) }

func historyKeyPrefix(name string) []byte { return []byte(historyPrefix + name + "/") }

func historyKey(name string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", historyPrefix, name, version))
}

// scanKeys calls fn for every key under prefix, in key order, without
// fetching values.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(key string)) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		fn(string(it.Item().KeyCopy(nil)))
	}
}

type recordStore Store

func (r *recordStore) Load(ctx context.Context, name string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(name))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound{Kind: domain.KindRecord, Name: name}
	}
	if err != nil {
		return nil, domain.StorageError{Op: "load", Name: name, Err: err}
	}
	rec, err := domain.DecodeRecord(payload)
	if err != nil {
		return nil, domain.MalformedError{Source: recordPrefix + name, Err: err}
	}
	return rec, nil
}

func (r *recordStore) Save(ctx context.Context, name string, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.StorageError{Op: "encode", Name: name, Err: err}
	}
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(name), payload)
	}); err != nil {
		return domain.StorageError{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (r *recordStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(recordKey(name))
	})
	if err != nil {
		return false, domain.StorageError{Op: "delete", Name: name, Err: err}
	}
	return existed, nil
}

func (r *recordStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := []string{}
	err := r.db.View(func(txn *badger.Txn) error {
		scanKeys(txn, []byte(recordPrefix), func(key string) {
			names = append(names, strings.TrimPrefix(key, recordPrefix))
		})
		return nil
	})
	if err != nil {
		return nil, domain.StorageError{Op: "list", Name: "records", Err: err}
	}
	return names, nil
}

type versionLog Store

// Append finds the highest stored version and writes the next one in the same
// transaction.
func (l *versionLog) Append(ctx context.Context, name string, before, after domain.Record) (*domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(domain.Diff(before, after)) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var entry domain.VersionEntry
	err := l.db.Update(func(txn *badger.Txn) error {
		last := 0
		prefix := historyKeyPrefix(name)
		var scanErr error
		scanKeys(txn, prefix, func(key string) {
			var v int
			if _, err := fmt.Sscanf(strings.TrimPrefix(key, string(prefix)), "%d", &v); err != nil {
				scanErr = err
				return
			}
			if v > last {
				last = v
			}
		})
		if scanErr != nil {
			return scanErr
		}
		entry, _ = domain.NewVersionEntry(name+".json", last+1, before, after, l.now())
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(historyKey(name, entry.Version), payload)
	})
	if err != nil {
		return nil, domain.StorageError{Op: "append history", Name: name, Err: err}
	}
	return &entry, nil
}

func (l *versionLog) Read(ctx context.Context, name string) ([]domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := []domain.VersionEntry{}
	prefix := historyKeyPrefix(name)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		line := 0
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			line++
			var entry domain.VersionEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err == nil {
				err = entry.Validate()
			}
			if err != nil {
				l.logger.Warn("skipping malformed history entry", "error", domain.MalformedError{Source: string(prefix), Line: line, Err: err})
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("history unreadable", "record", name, "error", err)
	}
	return entries, nil
}

func (l *versionLog) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	err := l.db.View(func(txn *badger.Txn) error {
		scanKeys(txn, []byte(historyPrefix), func(key string) {
			rest := strings.TrimPrefix(key, historyPrefix)
			if i := strings.LastIndexByte(rest, '/'); i > 0 {
				seen[rest[:i]] = struct{}{}
			}
		})
		return nil
	})
	if err != nil {
		return nil, domain.StorageError{Op: "list", Name: "history", Err: err}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
