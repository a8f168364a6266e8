package domain

import "context"

// RecordStore holds the current state of each record, keyed by record name.
type RecordStore interface {
	// Load returns the record stored under name. A missing record yields
	// ErrNotFound and an undecodable one a MalformedError.
	Load(ctx context.Context, name string) (Record, error)
	// Save replaces the record stored under name in one step.
	Save(ctx context.Context, name string, r Record) error
	// Delete removes the record, reporting whether it existed. History is kept.
	Delete(ctx context.Context, name string) (bool, error)
	// List returns every record name in ascending order.
	List(ctx context.Context) ([]string, error)
}

// VersionLog is the per-record append-only history.
type VersionLog interface {
	// Append records the change from before to after. Nothing is written and
	// nil is returned when the two states are equal. The entry is either fully
	// persisted or not at all.
	Append(ctx context.Context, name string, before, after Record) (*VersionEntry, error)
	// Read returns the entries in append order. A missing log yields an empty
	// slice; undecodable entries are skipped.
	Read(ctx context.Context, name string) ([]VersionEntry, error)
	// Names lists every record name that has a log, in ascending order.
	Names(ctx context.Context) ([]string, error)
}

// Storage bundles the two halves of a persistence driver.
type Storage interface {
	Records() RecordStore
	History() VersionLog
	Close() error
}
