package sqlite

import (
	"bytes"
	"circlereports/internal/infra/persistence/persistencetest"
	"circlereports/internal/infra/persistence/sqlstore"
	"circlereports/pkg/domain"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T, opts ...sqlstore.Option) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), opts...)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	persistencetest.RunContract(t, func(t *testing.T) domain.Storage { return openTestStore(t) })
}

func TestStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := store.Records().Save(ctx, "ali", domain.Record{"student_name": "Ali", "topic": "B"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.History().Append(ctx, "ali", domain.Record{"student_name": "Ali", "topic": "A"}, domain.Record{"student_name": "Ali", "topic": "B"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
	rec, err := reloaded.Records().Load(ctx, "ali")
	if err != nil || rec["topic"] != "B" {
		t.Fatalf("expected reloaded record, got %v %v", rec, err)
	}
	entries, err := reloaded.History().Read(ctx, "ali")
	if err != nil || len(entries) != 1 || entries[0].Version != 1 {
		t.Fatalf("expected reloaded history, got %+v %v", entries, err)
	}
}

func TestStoreCreatesTables(t *testing.T) {
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close() })
	for _, table := range []string{"records", "history"} {
		var name string
		if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name); err != nil {
			t.Fatalf("lookup %s table: %v", table, err)
		}
	}
}

func TestStoreSkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	var logBuf bytes.Buffer
	store := openTestStore(t, sqlstore.WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))))
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.History().Append(ctx, "ali", nil, domain.Record{"topic": "A"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO history(name,version,payload) VALUES(?,?,?)`, "ali", 2, []byte("{broken")); err != nil {
		t.Fatalf("seed malformed row: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO records(name,payload) VALUES(?,?)`, "bad", []byte("[1,2]")); err != nil {
		t.Fatalf("seed malformed record: %v", err)
	}
	entries, err := store.History().Read(ctx, "ali")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one readable entry, got %d (%v)", len(entries), err)
	}
	if !strings.Contains(logBuf.String(), "skipping malformed history entry") {
		t.Fatalf("expected warning, got %q", logBuf.String())
	}
	entry, err := store.History().Append(ctx, "ali", domain.Record{"topic": "A"}, domain.Record{"topic": "B"})
	if err != nil || entry.Version != 3 {
		t.Fatalf("expected version after the malformed row, got %+v %v", entry, err)
	}
	if _, err := store.Records().Load(ctx, "bad"); !domain.IsMalformed(err) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
}
