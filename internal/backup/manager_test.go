package backup

import (
	"bytes"
	"circlereports/internal/blob"
	"circlereports/internal/config"
	"circlereports/internal/infra/persistence/memory"
	"circlereports/pkg/domain"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeSaver validates and writes straight to a record store, standing in
// for the service.
type storeSaver struct {
	records domain.RecordStore
	saved   []string
}

func (s *storeSaver) SaveRecord(ctx context.Context, name string, r domain.Record) error {
	if err := domain.ValidateRecord(r); err != nil {
		return err
	}
	s.saved = append(s.saved, name)
	return s.records.Save(ctx, name, r)
}

type fixture struct {
	blobs   blob.Store
	records domain.RecordStore
	saver   *storeSaver
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blob.Open(context.Background(), config.Blob{Driver: "memory"})
	require.NoError(t, err)
	records := memory.NewStore(nil).Records()
	return &fixture{
		blobs:   blobs,
		records: records,
		saver:   &storeSaver{records: records},
		clock:   time.Date(2024, 12, 1, 10, 0, 0, 0, time.Local),
	}
}

func (f *fixture) manager(opts ...Option) *Manager {
	opts = append([]Option{WithClock(func() time.Time { return f.clock })}, opts...)
	return NewManager(f.blobs, f.records, f.saver, opts...)
}

func TestBackupWritesArchiveWithMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.records.Save(ctx, "ali", domain.Record{"student_name": "Ali", "topic": "B"}))
	require.NoError(t, f.records.Save(ctx, "sara", domain.Record{"student_name": "Sara"}))

	m := f.manager()
	m.newID = func() string { return "fixed-id" }
	archive, err := m.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "profiles_backup_20241201_100000.json", archive.Key)
	assert.Equal(t, 2, archive.Records)
	assert.Equal(t, "fixed-id", archive.ID)

	info, rc, err := f.blobs.Get(ctx, archive.Key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, map[string]string{"backup-id": "fixed-id", "records": "2"}, info.Metadata)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	var items []map[string]string
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "ali.json", items[0]["_file"])
	assert.Equal(t, "B", items[0]["topic"])
	assert.Equal(t, "sara.json", items[1]["_file"])
}

func TestBackupCollisionAndRetention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(WithRetain(2))

	first, err := m.Backup(ctx)
	require.NoError(t, err)
	second, err := m.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "profiles_backup_20241201_100000_1.json", second.Key)

	f.clock = f.clock.Add(time.Hour)
	third, err := m.Backup(ctx)
	require.NoError(t, err)

	archives, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, third.Key, archives[0].Key)
	assert.Equal(t, second.Key, archives[1].Key)
	_, err = f.blobs.Head(ctx, first.Key)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.True(t, f.clock.Equal(archives[0].CreatedAt))
}

func TestBackupRetainZeroKeepsAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(WithRetain(0))
	for i := 0; i < 7; i++ {
		f.clock = f.clock.Add(time.Second)
		_, err := m.Backup(ctx)
		require.NoError(t, err)
	}
	archives, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, archives, 7)
}

func TestRestoreSavesValidItemsAndReportsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	archive := `[
		{"_file": "ali.json", "student_name": "Ali", "topic": "B", "noor_page": 12},
		"not an object",
		{"_file": "bad.json", "student_name": "", "topic": "x"},
		{"student_name": "Sara Khan", "email": "sara@example.com"},
		{"_file": "nested.json", "student_name": "N", "extra": {"a": 1}}
	]`
	_, err := f.blobs.Put(ctx, "profiles_backup_20240101_000000.json", bytes.NewBufferString(archive), blob.PutOptions{})
	require.NoError(t, err)

	report, err := f.manager().Restore(ctx, "profiles_backup_20240101_000000.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"ali", "Sara_Khan_20241201_100000"}, report.Restored)
	require.Len(t, report.Skipped, 3)
	assert.Equal(t, 1, report.Skipped[0].Index)
	assert.Equal(t, "bad", report.Skipped[1].Name)
	assert.Equal(t, 4, report.Skipped[2].Index)

	ali, err := f.records.Load(ctx, "ali")
	require.NoError(t, err)
	assert.Equal(t, domain.Record{"student_name": "Ali", "topic": "B", "noor_page": "12"}, ali)
}

func TestRestoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager()

	_, err := m.Restore(ctx, "profiles_backup_missing.json")
	assert.True(t, domain.IsNotFound(err))

	_, err = f.blobs.Put(ctx, "profiles_backup_obj.json", bytes.NewBufferString(`{"student_name":"Ali"}`), blob.PutOptions{})
	require.NoError(t, err)
	_, err = m.Restore(ctx, "profiles_backup_obj.json")
	assert.True(t, domain.IsMalformed(err))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := domain.Record{"student_name": "Ali", "date": "01/12/2024", "topic": "B"}
	require.NoError(t, f.records.Save(ctx, "ali", original))
	m := f.manager()
	archive, err := m.Backup(ctx)
	require.NoError(t, err)

	_, err = f.records.Delete(ctx, "ali")
	require.NoError(t, err)
	report, err := m.Restore(ctx, archive.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"ali"}, report.Restored)
	restored, err := f.records.Load(ctx, "ali")
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}
