// Package persistencetest holds the behavioural suite every persistence driver
// must pass.
package persistencetest

import (
	"circlereports/pkg/domain"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty storage for one subtest.
type Factory func(t *testing.T) domain.Storage

// RunContract exercises the RecordStore and VersionLog behaviour shared by all
// drivers.
func RunContract(t *testing.T, open Factory) {
	t.Run("record round trip", func(t *testing.T) { recordRoundTrip(t, open(t)) })
	t.Run("record delete keeps history", func(t *testing.T) { deleteKeepsHistory(t, open(t)) })
	t.Run("history versions", func(t *testing.T) { historyVersions(t, open(t)) })
	t.Run("history isolation", func(t *testing.T) { historyIsolation(t, open(t)) })
}

func recordRoundTrip(t *testing.T, s domain.Storage) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()
	records := s.Records()

	_, err := records.Load(ctx, "ali")
	require.True(t, domain.IsNotFound(err), "expected not found, got %v", err)

	rec := domain.Record{"student_name": "Ali", "date": "01/12/2024", "topic": "A"}
	require.NoError(t, records.Save(ctx, "ali", rec))
	got, err := records.Load(ctx, "ali")
	require.NoError(t, err)
	assert.True(t, got.Equal(rec), "got %v", got)

	rec["topic"] = "B"
	require.NoError(t, records.Save(ctx, "ali", rec))
	got, err = records.Load(ctx, "ali")
	require.NoError(t, err)
	assert.Equal(t, "B", got["topic"])

	require.NoError(t, records.Save(ctx, "zaid", domain.Record{"student_name": "Zaid"}))
	names, err := records.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ali", "zaid"}, names)
}

func deleteKeepsHistory(t *testing.T, s domain.Storage) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()
	before := domain.Record{"student_name": "Ali", "topic": "A"}
	after := domain.Record{"student_name": "Ali", "topic": "B"}
	require.NoError(t, s.Records().Save(ctx, "ali", after))
	_, err := s.History().Append(ctx, "ali", before, after)
	require.NoError(t, err)

	existed, err := s.Records().Delete(ctx, "ali")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Records().Delete(ctx, "ali")
	require.NoError(t, err)
	assert.False(t, existed)

	entries, err := s.History().Read(ctx, "ali")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	names, err := s.History().Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ali"}, names)
}

func historyVersions(t *testing.T, s domain.Storage) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()
	log := s.History()

	entries, err := log.Read(ctx, "ali")
	require.NoError(t, err)
	assert.Empty(t, entries)

	states := []domain.Record{
		{"student_name": "Ali", "topic": "A"},
		{"student_name": "Ali", "topic": "B"},
		{"student_name": "Ali", "topic": "B", "homework": "p. 4"},
		{"student_name": "Ali", "homework": "p. 4"},
	}
	for i := 1; i < len(states); i++ {
		entry, err := log.Append(ctx, "ali", states[i-1], states[i])
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, i, entry.Version)
	}
	entry, err := log.Append(ctx, "ali", states[3], states[3].Clone())
	require.NoError(t, err)
	assert.Nil(t, entry, "equal states must not produce an entry")

	entries, err = log.Read(ctx, "ali")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	state := states[0]
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version)
		assert.NotEmpty(t, e.Changes)
		assert.False(t, e.Timestamp.IsZero())
		assert.WithinDuration(t, time.Now(), e.Timestamp.Time, 24*time.Hour)
		state = domain.ApplyChanges(state, e.Changes)
		assert.True(t, state.Equal(e.Snapshot), "version %d replay %v != snapshot %v", e.Version, state, e.Snapshot)
	}
	assert.Equal(t, domain.FieldChange{Old: "B", New: ""}, entries[2].Changes["topic"])
}

func historyIsolation(t *testing.T, s domain.Storage) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()
	log := s.History()
	_, err := log.Append(ctx, "ali", nil, domain.Record{"student_name": "Ali"})
	require.NoError(t, err)
	entry, err := log.Append(ctx, "zaid", nil, domain.Record{"student_name": "Zaid"})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version, "versions are per record")

	names, err := log.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ali", "zaid"}, names)
}
