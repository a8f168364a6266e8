package fs

import (
	"bufio"
	"bytes"
	"circlereports/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxLineBytes bounds a single history line.
const maxLineBytes = 4 << 20

var _ domain.VersionLog = (*VersionLog)(nil)

// VersionLog appends history entries to <dir>/<name>.jsonl, one JSON object per
// line. Appends are serialised within the process; concurrent writers to the
// same record from different processes are not coordinated.
type VersionLog struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// LogOption customises a VersionLog.
type LogOption func(*VersionLog)

// WithLogger sets the logger used for skipped-entry warnings.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *VersionLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) LogOption {
	return func(l *VersionLog) {
		if now != nil {
			l.now = now
		}
	}
}

// NewVersionLog returns a log rooted at dir, creating it if needed.
func NewVersionLog(dir string, opts ...LogOption) (*VersionLog, error) {
	if dir == "" {
		dir = "history"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	l := &VersionLog{dir: dir, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the directory holding history logs.
func (l *VersionLog) Dir() string { return l.dir }

func (l *VersionLog) pathFor(name string) string {
	return filepath.Join(l.dir, name+historyExt)
}

// Append writes one entry describing the change from before to after. The
// encoded line goes out in a single write followed by fsync; on failure the
// file is truncated back to its previous length.
func (l *VersionLog) Append(ctx context.Context, name string, before, after domain.Record) (*domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.read(name)
	entry, ok := domain.NewVersionEntry(name+recordExt, domain.LastVersion(existing)+1, before, after, l.now())
	if !ok {
		return nil, nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, domain.StorageError{Op: "encode history", Name: name, Err: err}
	}
	if err := appendLine(l.pathFor(name), line); err != nil {
		return nil, domain.StorageError{Op: "append history", Name: name, Err: err}
	}
	return &entry, nil
}

func appendLine(path string, line []byte) (retErr error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = cerr
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	buf := make([]byte, 0, len(line)+2)
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return err
		}
		// a previous partial write left no terminator
		if last[0] != '\n' {
			buf = append(buf, '\n')
		}
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		_ = f.Truncate(size)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		return err
	}
	return nil
}

// Read returns the well-formed entries of the record's log in append order.
func (l *VersionLog) Read(ctx context.Context, name string) ([]domain.VersionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.read(name), nil
}

func (l *VersionLog) read(name string) []domain.VersionEntry {
	source := name + historyExt
	f, err := os.Open(l.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.VersionEntry{}
	}
	if err != nil {
		l.logger.Warn("history unreadable", "record", name, "error", err)
		return []domain.VersionEntry{}
	}
	defer func() { _ = f.Close() }()
	entries, err := decodeEntries(f, source, l.logger)
	if err != nil {
		l.logger.Warn("history read stopped early", "record", name, "error", err)
	}
	return entries
}

// decodeEntries parses newline-delimited entries, skipping blank and malformed
// lines. It returns the entries decoded before any read error.
func decodeEntries(r io.Reader, source string, logger *slog.Logger) ([]domain.VersionEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	entries := []domain.VersionEntry{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var entry domain.VersionEntry
		err := json.Unmarshal(raw, &entry)
		if err == nil {
			err = entry.Validate()
		}
		if err != nil {
			logger.Warn("skipping malformed history entry", "error", domain.MalformedError{Source: source, Line: lineNo, Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Names lists every record that has a history log.
func (l *VersionLog) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listNames(l.dir, historyExt)
}
