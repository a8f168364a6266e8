// Package memory provides an in-memory record store and version log used for
// tests and ephemeral environments.
package memory

import (
	"circlereports/pkg/domain"
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.Storage     = (*Store)(nil)
	_ domain.RecordStore = (*recordStore)(nil)
	_ domain.VersionLog  = (*versionLog)(nil)
)

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Records map[string]domain.Record         `json:"records"`
	History map[string][]domain.VersionEntry `json:"history"`
}

type memoryState struct {
	records map[string]domain.Record
	history map[string][]domain.VersionEntry
}

func newMemoryState() memoryState {
	return memoryState{
		records: map[string]domain.Record{},
		history: map[string][]domain.VersionEntry{},
	}
}

// Store keeps records and history in maps guarded by a single mutex.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

// NewStore returns an empty store. A nil clock defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{state: newMemoryState(), now: now}
}

// NowFunc exposes the clock used to stamp history entries.
func (s *Store) NowFunc() func() time.Time { return s.now }

// Records returns the current-state view of the store.
func (s *Store) Records() domain.RecordStore { return (*recordStore)(s) }

// History returns the version log view of the store.
func (s *Store) History() domain.VersionLog { return (*versionLog)(s) }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Records: make(map[string]domain.Record, len(s.state.records)),
		History: make(map[string][]domain.VersionEntry, len(s.state.history)),
	}
	for name, r := range s.state.records {
		out.Records[name] = r.Clone()
	}
	for name, entries := range s.state.history {
		out.History[name] = cloneEntries(entries)
	}
	return out
}

// ImportState replaces the state with a deep copy of snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for name, r := range snapshot.Records {
		state.records[name] = r.Clone()
	}
	for name, entries := range snapshot.History {
		state.history[name] = cloneEntries(entries)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func cloneEntries(entries []domain.VersionEntry) []domain.VersionEntry {
	out := make([]domain.VersionEntry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e domain.VersionEntry) domain.VersionEntry {
	changes := make(domain.Changes, len(e.Changes))
	for k, v := range e.Changes {
		changes[k] = v
	}
	e.Changes = changes
	e.Snapshot = e.Snapshot.Clone()
	return e
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type recordStore Store

func (r *recordStore) Load(ctx context.Context, name string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.state.records[name]
	if !ok {
		return nil, domain.ErrNotFound{Kind: domain.KindRecord, Name: name}
	}
	return rec.Clone(), nil
}

func (r *recordStore) Save(ctx context.Context, name string, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.records[name] = rec.Clone()
	return nil
}

func (r *recordStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.records[name]
	delete(r.state.records, name)
	return ok, nil
}

func (r *recordStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.state.records), nil
}

type versionLog Store

func (l *versionLog) Append(ctx context.Context, name string, before, after domain.Record) (*domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	existing := l.state.history[name]
	entry, ok := domain.NewVersionEntry(name+".json", domain.LastVersion(existing)+1, before, after, l.now())
	if !ok {
		return nil, nil
	}
	l.state.history[name] = append(existing, cloneEntry(entry))
	return &entry, nil
}

func (l *versionLog) Read(ctx context.Context, name string) ([]domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEntries(l.state.history[name]), nil
}

func (l *versionLog) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.state.history), nil
}
