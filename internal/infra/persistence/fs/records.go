// Package fs stores records and their history as plain files: one indented
// JSON document per record and one newline-delimited JSON log per record.
package fs

import (
	"circlereports/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	recordExt  = ".json"
	historyExt = ".jsonl"
	tempPrefix = ".tmp-"
)

var _ domain.RecordStore = (*RecordStore)(nil)

// RecordStore keeps each record at <dir>/<name>.json.
type RecordStore struct {
	dir string
}

// NewRecordStore returns a store rooted at dir, creating it if needed.
func NewRecordStore(dir string) (*RecordStore, error) {
	if dir == "" {
		dir = "profiles"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &RecordStore{dir: dir}, nil
}

// Dir returns the directory holding record files.
func (s *RecordStore) Dir() string { return s.dir }

func (s *RecordStore) pathFor(name string) string {
	return filepath.Join(s.dir, name+recordExt)
}

// Load reads and decodes the record stored under name.
func (s *RecordStore) Load(ctx context.Context, name string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound{Kind: domain.KindRecord, Name: name}
	}
	if err != nil {
		return nil, domain.StorageError{Op: "load", Name: name, Err: err}
	}
	rec, err := domain.DecodeRecord(data)
	if err != nil {
		return nil, domain.MalformedError{Source: name + recordExt, Err: err}
	}
	return rec, nil
}

// Save writes the record to a temporary file and renames it into place, so a
// reader sees either the previous or the new document.
func (s *RecordStore) Save(ctx context.Context, name string, r domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return domain.StorageError{Op: "encode", Name: name, Err: err}
	}
	if err := writeFileAtomic(s.pathFor(name), append(data, '\n')); err != nil {
		return domain.StorageError{Op: "save", Name: name, Err: err}
	}
	return nil
}

// Delete removes the record file. A missing record is not an error.
func (s *RecordStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(s.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.StorageError{Op: "delete", Name: name, Err: err}
	}
	return true, nil
}

// List returns the names of all record files in ascending order.
func (s *RecordStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listNames(s.dir, recordExt)
}

func listNames(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, domain.StorageError{Op: "list", Name: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || strings.HasPrefix(fileName, tempPrefix) || !strings.HasSuffix(fileName, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(fileName, ext))
	}
	sort.Strings(names)
	return names, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
