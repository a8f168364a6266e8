package badger

import (
	"circlereports/internal/infra/persistence/persistencetest"
	"circlereports/pkg/domain"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	persistencetest.RunContract(t, func(t *testing.T) domain.Storage {
		store, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	at := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	cfg := DefaultConfig(dir)
	cfg.Now = func() time.Time { return at }

	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Records().Save(ctx, "ali", domain.Record{"student_name": "Ali", "topic": "B"}))
	_, err = store.History().Append(ctx, "ali", domain.Record{"student_name": "Ali", "topic": "A"}, domain.Record{"student_name": "Ali", "topic": "B"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	rec, err := reopened.Records().Load(ctx, "ali")
	require.NoError(t, err)
	assert.Equal(t, "B", rec["topic"])
	entries, err := reopened.History().Read(ctx, "ali")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.Equal(at))
}

func TestVersionKeysSortNumerically(t *testing.T) {
	ctx := context.Background()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	state := domain.Record{"student_name": "Ali", "noor_page": "0"}
	for i := 1; i <= 12; i++ {
		next := state.Clone()
		next["noor_page"] = strconv.Itoa(i)
		entry, err := store.History().Append(ctx, "ali", state, next)
		require.NoError(t, err)
		require.Equal(t, i, entry.Version)
		state = next
	}
	entries, err := store.History().Read(ctx, "ali")
	require.NoError(t, err)
	require.Len(t, entries, 12)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestReadSkipsMalformedValues(t *testing.T) {
	ctx := context.Background()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.History().Append(ctx, "ali", nil, domain.Record{"topic": "A"})
	require.NoError(t, err)
	require.NoError(t, store.DB().Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey("ali", 2), []byte("{broken"))
	}))
	require.NoError(t, store.DB().Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey("bad"), []byte(`"not an object"`))
	}))

	entries, err := store.History().Read(ctx, "ali")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entry, err := store.History().Append(ctx, "ali", domain.Record{"topic": "A"}, domain.Record{"topic": "B"})
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Version)

	_, err = store.Records().Load(ctx, "bad")
	assert.True(t, domain.IsMalformed(err))
}
