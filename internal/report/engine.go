// Package report merges each record's current state with its history to
// answer date-filtered, deduplicated report queries.
package report

import (
	"circlereports/pkg/domain"
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Engine extracts reports from a record store and its version log.
type Engine struct {
	records     domain.RecordStore
	history     domain.VersionLog
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skipped-record warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time stamped on current-state entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithConcurrency bounds how many records are loaded in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine constructs an Engine over the supplied stores.
func NewEngine(records domain.RecordStore, history domain.VersionLog, opts ...Option) *Engine {
	e := &Engine{
		records:     records,
		history:     history,
		logger:      slog.Default(),
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidates is everything one record contributes before filtering.
type candidates struct {
	identity string
	entries  []domain.ReportEntry
}

// Extract builds the report for criteria. Identities with no matching entry
// are omitted, so an empty report means nothing matched.
func (e *Engine) Extract(ctx context.Context, criteria domain.ReportCriteria) (domain.ExtractedReport, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if criteria.Mode == "" {
		criteria.Mode = domain.ModeAll
	}
	names, err := e.recordNames(ctx, criteria.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	extractedAt := domain.Timestamp{Time: e.now()}
	loaded := make([]*candidates, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range names {
		g.Go(func() error {
			c, err := e.load(gctx, name, extractedAt, criteria.IncludeDeleted)
			if err != nil {
				return err
			}
			loaded[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.ReportEntry)
	var order []string
	for _, c := range loaded {
		if c == nil || !criteria.MatchesIdentity(c.identity) {
			continue
		}
		if _, ok := grouped[c.identity]; !ok {
			order = append(order, c.identity)
		}
		grouped[c.identity] = append(grouped[c.identity], c.entries...)
	}

	out := domain.ExtractedReport{}
	for _, identity := range order {
		entries := Reduce(SortEntries(FilterByDate(grouped[identity], criteria)), criteria.Mode)
		if len(entries) > 0 {
			out[identity] = entries
		}
	}
	return out, nil
}

// recordNames returns the live record names, plus names that only survive
// in history when includeDeleted is set.
func (e *Engine) recordNames(ctx context.Context, includeDeleted bool) ([]string, error) {
	names, err := e.records.List(ctx)
	if err != nil {
		return nil, err
	}
	if !includeDeleted {
		return names, nil
	}
	logged, err := e.history.Names(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	for _, n := range logged {
		if _, ok := seen[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// load gathers one record's deduplicated candidates: the current state
// first, then every snapshot in log order. It returns nil when the record
// contributes nothing.
func (e *Engine) load(ctx context.Context, name string, extractedAt domain.Timestamp, includeDeleted bool) (*candidates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := e.records.Load(ctx, name)
	switch {
	case err == nil:
	case domain.IsMalformed(err):
		e.logger.Warn("skipping unreadable record", "record", name, "error", err)
		return nil, nil
	case domain.IsNotFound(err):
		if !includeDeleted {
			// Deleted between List and Load.
			return nil, nil
		}
		current = nil
	default:
		return nil, err
	}

	history, err := e.history.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	if current == nil && len(history) == 0 {
		return nil, nil
	}

	c := &candidates{}
	if current != nil {
		c.identity = current.Identity()
		c.entries = append(c.entries, domain.ReportEntry{
			Record:     current,
			Source:     domain.SourceCurrent,
			RecordName: name,
			Timestamp:  extractedAt,
		})
	} else {
		c.identity = history[len(history)-1].Snapshot.Identity()
	}
	for _, entry := range history {
		c.entries = append(c.entries, domain.ReportEntry{
			Record:     entry.Snapshot,
			Source:     domain.SourceHistory,
			RecordName: name,
			Version:    entry.Version,
			Timestamp:  entry.Timestamp,
		})
	}
	c.entries = Dedup(c.entries)
	return c, nil
}

// Dedup keeps the first entry seen for each (date, topic, subject) key.
func Dedup(entries []domain.ReportEntry) []domain.ReportEntry {
	seen := make(map[domain.DedupKey]struct{}, len(entries))
	out := make([]domain.ReportEntry, 0, len(entries))
	for _, entry := range entries {
		key := entry.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// FilterByDate drops entries whose date does not satisfy criteria.
func FilterByDate(entries []domain.ReportEntry, criteria domain.ReportCriteria) []domain.ReportEntry {
	out := entries[:0:0]
	for _, entry := range entries {
		if domain.DateMatches(entry.Record.Get(domain.FieldDate), criteria) {
			out = append(out, entry)
		}
	}
	return out
}

// SortEntries orders entries oldest first by report date, then by the time
// the state was recorded. Ties keep their merge order.
func SortEntries(entries []domain.ReportEntry) []domain.ReportEntry {
	type keyed struct {
		date  time.Time
		entry domain.ReportEntry
	}
	ks := make([]keyed, len(entries))
	for i, entry := range entries {
		// Entries reaching here passed FilterByDate, so the date parses.
		d, _ := domain.ParseDate(entry.Record.Get(domain.FieldDate))
		ks[i] = keyed{date: d, entry: entry}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if !ks[i].date.Equal(ks[j].date) {
			return ks[i].date.Before(ks[j].date)
		}
		return ks[i].entry.Timestamp.Before(ks[j].entry.Timestamp.Time)
	})
	out := make([]domain.ReportEntry, len(ks))
	for i, k := range ks {
		out[i] = k.entry
	}
	return out
}

// Reduce applies mode to sorted entries: the earliest, the latest, or all
// of them newest first.
func Reduce(sorted []domain.ReportEntry, mode domain.Mode) []domain.ReportEntry {
	if len(sorted) == 0 {
		return nil
	}
	switch mode {
	case domain.ModeFirst:
		return sorted[:1]
	case domain.ModeLast:
		return sorted[len(sorted)-1:]
	default:
		out := make([]domain.ReportEntry, len(sorted))
		for i, entry := range sorted {
			out[len(sorted)-1-i] = entry
		}
		return out
	}
}
