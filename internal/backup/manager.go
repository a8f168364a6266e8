// Package backup archives every current record into one JSON document in
// blob storage and restores records from such archives.
package backup

import (
	"bytes"
	"circlereports/internal/blob"
	"circlereports/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix starts every archive key.
const KeyPrefix = "profiles_backup_"

const (
	keyTimeLayout   = "20060102_150405"
	metaID          = "backup-id"
	metaRecords     = "records"
	contentTypeJSON = "application/json"
	maxKeyAttempts  = 100
)

// Saver persists a restored record the way an ordinary save would, so the
// restore is versioned like any other change.
type Saver interface {
	SaveRecord(ctx context.Context, name string, r domain.Record) error
}

// Archive describes one stored backup.
type Archive struct {
	Key       string    `json:"key"`
	ID        string    `json:"backup_id,omitempty"`
	Records   int       `json:"records"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// SkippedItem is an archive element Restore could not apply.
type SkippedItem struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// RestoreReport summarises a restore.
type RestoreReport struct {
	Key      string        `json:"key"`
	Restored []string      `json:"restored"`
	Skipped  []SkippedItem `json:"skipped,omitempty"`
}

// Manager writes, lists, prunes and restores archives.
type Manager struct {
	store   blob.Store
	records domain.RecordStore
	saver   Saver
	retain  int
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetain keeps only the newest n archives after each backup. Zero keeps all.
func WithRetain(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.retain = n
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the clock used for archive keys.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. Records are read directly from records and
// restored through saver.
func NewManager(store blob.Store, records domain.RecordStore, saver Saver, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		records: records,
		saver:   saver,
		retain:  5,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backup writes every loadable record to a new archive and prunes old ones.
func (m *Manager) Backup(ctx context.Context) (Archive, error) {
	names, err := m.records.List(ctx)
	if err != nil {
		return Archive{}, err
	}
	items := make([]domain.Record, 0, len(names))
	for _, name := range names {
		rec, err := m.records.Load(ctx, name)
		switch {
		case err == nil:
		case domain.IsMalformed(err), domain.IsNotFound(err):
			m.logger.Warn("backup skipping record", "record", name, "error", err)
			continue
		default:
			return Archive{}, err
		}
		item := rec.Clone()
		item[domain.FieldSourceFile] = name + ".json"
		items = append(items, item)
	}
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return Archive{}, err
	}

	id := m.newID()
	created := m.now()
	opts := blob.PutOptions{
		ContentType: contentTypeJSON,
		Metadata:    map[string]string{metaID: id, metaRecords: strconv.Itoa(len(items))},
	}
	base := KeyPrefix + created.Format(keyTimeLayout)
	var info blob.Info
	for attempt := 0; ; attempt++ {
		key := base + ".json"
		if attempt > 0 {
			key = fmt.Sprintf("%s_%d.json", base, attempt)
		}
		info, err = m.store.Put(ctx, key, bytes.NewReader(payload), opts)
		if err == nil {
			break
		}
		if !errors.Is(err, blob.ErrExists) || attempt >= maxKeyAttempts {
			return Archive{}, fmt.Errorf("write archive: %w", err)
		}
	}
	archive := Archive{Key: info.Key, ID: id, Records: len(items), Size: info.Size, CreatedAt: created}
	m.logger.Info("backup written", "key", archive.Key, "records", archive.Records, "backup_id", id)

	if err := m.prune(ctx); err != nil {
		return archive, err
	}
	return archive, nil
}

// List returns every archive, newest first.
func (m *Manager) List(ctx context.Context) ([]Archive, error) {
	infos, err := m.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key > infos[j].Key })
	out := make([]Archive, 0, len(infos))
	for _, info := range infos {
		if info.Metadata == nil {
			// Some backends omit user metadata from listings.
			if head, err := m.store.Head(ctx, info.Key); err == nil {
				info.Metadata = head.Metadata
			}
		}
		out = append(out, archiveFrom(info))
	}
	return out, nil
}

func archiveFrom(info blob.Info) Archive {
	a := Archive{Key: info.Key, Size: info.Size, CreatedAt: info.LastModified}
	if info.Metadata != nil {
		a.ID = info.Metadata[metaID]
		if n, err := strconv.Atoi(info.Metadata[metaRecords]); err == nil {
			a.Records = n
		}
	}
	if t, err := time.ParseInLocation(keyTimeLayout, keyTimestamp(info.Key), time.Local); err == nil {
		a.CreatedAt = t
	}
	return a
}

// keyTimestamp extracts the YYYYMMDD_HHMMSS part of an archive key.
func keyTimestamp(key string) string {
	rest := strings.TrimPrefix(key, KeyPrefix)
	if len(rest) < len(keyTimeLayout) {
		return ""
	}
	return rest[:len(keyTimeLayout)]
}

func (m *Manager) prune(ctx context.Context) error {
	if m.retain == 0 {
		return nil
	}
	archives, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, old := range archives[min(m.retain, len(archives)):] {
		if _, err := m.store.Delete(ctx, old.Key); err != nil {
			return fmt.Errorf("prune %s: %w", old.Key, err)
		}
		m.logger.Info("backup pruned", "key", old.Key)
	}
	return nil
}

// Restore saves every valid record in the archive at key. Elements that are
// not flat objects, or that fail validation, are reported as skipped.
func (m *Manager) Restore(ctx context.Context, key string) (RestoreReport, error) {
	_, rc, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return RestoreReport{}, domain.ErrNotFound{Kind: domain.KindArchive, Name: key}
		}
		return RestoreReport{}, err
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return RestoreReport{}, domain.StorageError{Op: "read archive", Name: key, Err: err}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return RestoreReport{}, domain.MalformedError{Source: key, Err: err}
	}

	report := RestoreReport{Key: key, Restored: []string{}}
	for i, raw := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, err := domain.DecodeRecord(raw)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedItem{Index: i, Reason: err.Error()})
			continue
		}
		name := domain.GenerateName(rec, m.now())
		if file := rec.Get(domain.FieldSourceFile); file != "" {
			name = domain.SanitizeName(file)
		}
		if err := m.saver.SaveRecord(ctx, name, rec.WithoutMetadata()); err != nil {
			if domain.IsValidation(err) {
				report.Skipped = append(report.Skipped, SkippedItem{Index: i, Name: name, Reason: err.Error()})
				continue
			}
			return report, err
		}
		report.Restored = append(report.Restored, name)
	}
	m.logger.Info("backup restored", "key", key, "restored", len(report.Restored), "skipped", len(report.Skipped))
	return report, nil
}
