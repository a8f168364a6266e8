package fs

import (
	"circlereports/pkg/domain"
	"path/filepath"
)

var _ domain.Storage = (*Store)(nil)

// Store pairs a RecordStore and a VersionLog rooted under one data directory.
type Store struct {
	records *RecordStore
	history *VersionLog
}

// New opens the canonical file layout: <root>/profiles for records and
// <root>/history for logs. Explicit directories override the defaults.
func New(root, recordsDir, historyDir string, opts ...LogOption) (*Store, error) {
	if root == "" {
		root = "."
	}
	if recordsDir == "" {
		recordsDir = filepath.Join(root, "profiles")
	}
	if historyDir == "" {
		historyDir = filepath.Join(root, "history")
	}
	records, err := NewRecordStore(recordsDir)
	if err != nil {
		return nil, err
	}
	history, err := NewVersionLog(historyDir, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{records: records, history: history}, nil
}

// Records returns the current-state store.
func (s *Store) Records() domain.RecordStore { return s.records }

// History returns the per-record version log.
func (s *Store) History() domain.VersionLog { return s.history }

// Close is a no-op; files are opened per operation.
func (s *Store) Close() error { return nil }
