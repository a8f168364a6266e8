package fs

import (
	"bytes"
	"circlereports/pkg/domain"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...LogOption) *Store {
	t.Helper()
	store, err := New(t.TempDir(), "", "", opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestRecordStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	records := store.Records()

	if _, err := records.Load(ctx, "ali"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	rec := domain.Record{"student_name": "Ali", "topic": "A"}
	if err := records.Save(ctx, "ali", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := records.Load(ctx, "ali")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("expected %v, got %v", rec, got)
	}
	rec["topic"] = "B"
	if err := records.Save(ctx, "ali", rec); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = records.Load(ctx, "ali")
	if got["topic"] != "B" {
		t.Fatalf("expected overwritten topic, got %v", got)
	}
	if err := records.Save(ctx, "zaid", domain.Record{"student_name": "Zaid"}); err != nil {
		t.Fatalf("save zaid: %v", err)
	}
	names, err := records.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "ali,zaid" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRecordStoreSaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rs := store.records
	for i := 0; i < 3; i++ {
		if err := rs.Save(ctx, "ali", domain.Record{"student_name": "Ali"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	entries, err := os.ReadDir(rs.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "ali.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestRecordStoreMalformedAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rs := store.records
	if err := os.WriteFile(filepath.Join(rs.Dir(), "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := rs.Load(ctx, "broken"); !domain.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	existed, err := rs.Delete(ctx, "broken")
	if err != nil || !existed {
		t.Fatalf("expected delete to succeed, got %v %v", existed, err)
	}
	existed, err = rs.Delete(ctx, "broken")
	if err != nil || existed {
		t.Fatalf("expected idempotent delete, got %v %v", existed, err)
	}
}

func TestVersionLogAppendMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return clock }))
	log := store.History()

	states := []domain.Record{
		{"student_name": "Ali", "topic": "A"},
		{"student_name": "Ali", "topic": "B"},
		{"student_name": "Ali", "topic": "C"},
		{"student_name": "Ali", "topic": "C", "homework": "read"},
	}
	for i := 1; i < len(states); i++ {
		entry, err := log.Append(ctx, "ali", states[i-1], states[i])
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry == nil || entry.Version != i {
			t.Fatalf("expected version %d, got %+v", i, entry)
		}
	}
	entry, err := log.Append(ctx, "ali", states[3], states[3])
	if err != nil || entry != nil {
		t.Fatalf("expected no-op append, got %+v %v", entry, err)
	}

	entries, err := log.Read(ctx, "ali")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	state := states[0]
	for i, e := range entries {
		if e.Version != i+1 {
			t.Fatalf("entry %d has version %d", i, e.Version)
		}
		if e.RecordName != "ali.json" || !e.Timestamp.Equal(clock) {
			t.Fatalf("unexpected entry header %+v", e)
		}
		state = domain.ApplyChanges(state, e.Changes)
		if !state.Equal(e.Snapshot) {
			t.Fatalf("replay of version %d gives %v, snapshot %v", e.Version, state, e.Snapshot)
		}
	}
	if entries[0].Changes["topic"] != (domain.FieldChange{Old: "A", New: "B"}) {
		t.Fatalf("unexpected first change %v", entries[0].Changes)
	}
}

func TestVersionLogSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	store := newTestStore(t, WithLogger(logger))
	log := store.history

	lines := []string{
		`{"version":1,"timestamp":"2024-12-01T10:00:00","profile_file":"ali.json","changes":{"topic":{"old":"A","new":"B"}},"snapshot":{"student_name":"Ali","topic":"B"}}`,
		`{"version":2,"timestamp":"2024-12-02T10:00:00","profile_file":"ali.json","changes":{"topic":{"old":"B","new":"C"}},"snapshot":{"student_name":"Ali","topic":"C"}}`,
		`{"version":3,"timestamp":"2024-12-03T10:00:00","profile_file":"ali.json","chan`,
		`{"version":4,"timestamp":"2024-12-04T10:00:00","profile_file":"ali.json","changes":{"topic":{"old":"C","new":"D"}},"snapshot":{"student_name":"Ali","topic":"D"}}`,
		`{"version":5,"timestamp":"2024-12-05T10:00:00","profile_file":"ali.json","changes":{"topic":{"old":"D","new":"E"}},"snapshot":{"student_name":"Ali","topic":"E"}}`,
	}
	path := filepath.Join(log.Dir(), "ali.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	entries, err := log.Read(ctx, "ali")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if !strings.Contains(logBuf.String(), "skipping malformed history entry") {
		t.Fatalf("expected warning, got %q", logBuf.String())
	}

	entry, err := log.Append(ctx, "ali", domain.Record{"topic": "E"}, domain.Record{"topic": "F"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Version != 6 {
		t.Fatalf("expected version 6 after existing 5, got %d", entry.Version)
	}
}

func TestVersionLogRepairsUnterminatedTail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := store.history
	path := filepath.Join(log.Dir(), "ali.jsonl")
	if err := os.WriteFile(path, []byte(`{"version":1,"timest`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	entry, err := log.Append(ctx, "ali", domain.Record{"topic": "A"}, domain.Record{"topic": "B"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Version != 1 {
		t.Fatalf("expected version 1, got %d", entry.Version)
	}
	entries, _ := log.Read(ctx, "ali")
	if len(entries) != 1 || entries[0].Snapshot["topic"] != "B" {
		t.Fatalf("expected appended entry to survive the torn line, got %+v", entries)
	}
}

func TestVersionLogMissingAndNames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := store.History()
	entries, err := log.Read(ctx, "nobody")
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history, got %v %v", entries, err)
	}
	for _, name := range []string{"zaid", "ali"} {
		if _, err := log.Append(ctx, name, nil, domain.Record{"student_name": name}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	names, err := log.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if strings.Join(names, ",") != "ali,zaid" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newTestStore(t)
	if err := store.Records().Save(ctx, "ali", domain.Record{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if _, err := store.History().Append(ctx, "ali", nil, domain.Record{"a": "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
