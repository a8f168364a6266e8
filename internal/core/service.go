// Package core is the service facade over record persistence, history,
// report extraction and backups. Every operation is audited, measured and
// traced through pluggable recorders.
package core

import (
	"circlereports/internal/backup"
	"circlereports/internal/blob"
	"circlereports/internal/report"
	"circlereports/pkg/domain"
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrBackupsDisabled is returned by backup operations when no archive store
// was configured.
var ErrBackupsDisabled = errors.New("backups are not configured")

// Operation names used for audit, metrics and tracing.
const (
	OpSaveRecord   = "save_record"
	OpGetRecord    = "get_record"
	OpListRecords  = "list_records"
	OpDeleteRecord = "delete_record"
	OpHistory      = "history"
	OpSearch       = "search_records"
	OpExtract      = "extract_report"
	OpBackup       = "backup"
	OpRestore      = "restore"
	OpListBackups  = "list_backups"
)

// Service exposes record, history, report and backup operations over one
// storage driver.
type Service struct {
	storage     domain.Storage
	engine      *report.Engine
	backups     *backup.Manager
	archives    blob.Store
	retain      int
	concurrency int
	logger      *slog.Logger
	clock       Clock
	audit       AuditRecorder
	metrics     MetricsRecorder
	tracer      Tracer
}

// ServiceOption configures optional Service behaviour.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for generated names, report stamps and audit entries.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditRecorder sets the recorder receiving one entry per operation.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapping each operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithArchiveStore enables backups into store, keeping the newest retain
// archives (0 keeps all).
func WithArchiveStore(store blob.Store, retain int) ServiceOption {
	return func(s *Service) {
		s.archives = store
		s.retain = retain
	}
}

// WithReportConcurrency bounds parallel record loading during extraction.
func WithReportConcurrency(n int) ServiceOption {
	return func(s *Service) {
		s.concurrency = n
	}
}

// NewService constructs a service backed by storage.
func NewService(storage domain.Storage, opts ...ServiceOption) *Service {
	s := &Service{
		storage: storage,
		logger:  slog.Default(),
		clock:   ClockFunc(time.Now),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = NewSlogAuditRecorder(s.logger)
	}
	s.engine = report.NewEngine(storage.Records(), storage.History(),
		report.WithLogger(s.logger),
		report.WithClock(s.clock.Now),
		report.WithConcurrency(s.concurrency),
	)
	if s.archives != nil {
		s.backups = backup.NewManager(s.archives, storage.Records(), restoreSaver{s},
			backup.WithRetain(s.retain),
			backup.WithLogger(s.logger),
			backup.WithClock(s.clock.Now),
		)
	}
	return s
}

// Storage returns the underlying persistence driver.
func (s *Service) Storage() domain.Storage { return s.storage }

// Close releases the storage driver.
func (s *Service) Close() error { return s.storage.Close() }

// run wraps fn with tracing, metrics and audit.
func (s *Service) run(ctx context.Context, op, record string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	entry := AuditEntry{
		Operation: op,
		Record:    record,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
	return err
}

// SaveResult is the outcome of SaveRecord. Entry is nil when the save
// created the record or changed nothing.
type SaveResult struct {
	Name   string               `json:"name"`
	Record domain.Record        `json:"record"`
	Entry  *domain.VersionEntry `json:"entry,omitempty"`
}

// SaveRecord validates r and stores it under name, appending the diff
// against the previous state to the record's history. An empty name is
// generated from the identity and the current time.
func (s *Service) SaveRecord(ctx context.Context, name string, r domain.Record) (SaveResult, error) {
	var res SaveResult
	rec := r.WithoutMetadata()
	if name == "" {
		name = domain.GenerateName(rec, s.clock.Now())
	} else {
		name = domain.SanitizeName(name)
	}
	err := s.run(ctx, OpSaveRecord, name, func(ctx context.Context) error {
		if err := domain.ValidateRecord(rec); err != nil {
			return err
		}
		prior, err := s.storage.Records().Load(ctx, name)
		switch {
		case err == nil:
		case domain.IsNotFound(err):
			prior = nil
		case domain.IsMalformed(err):
			s.logger.Warn("replacing unreadable record", "record", name, "error", err)
			prior = nil
		default:
			return err
		}
		if err := s.storage.Records().Save(ctx, name, rec); err != nil {
			return err
		}
		res = SaveResult{Name: name, Record: rec}
		if prior == nil {
			return nil
		}
		entry, err := s.storage.History().Append(ctx, name, prior, rec)
		if err != nil {
			// Put the prior state back so a retry still sees the change.
			if rerr := s.storage.Records().Save(context.WithoutCancel(ctx), name, prior); rerr != nil {
				s.logger.Error("rollback after failed history append", "record", name, "error", rerr)
				return errors.Join(err, rerr)
			}
			return err
		}
		res.Entry = entry
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

// restoreSaver lets the backup manager save through the service.
type restoreSaver struct{ s *Service }

func (r restoreSaver) SaveRecord(ctx context.Context, name string, rec domain.Record) error {
	_, err := r.s.SaveRecord(ctx, name, rec)
	return err
}

// GetRecord loads one record.
func (s *Service) GetRecord(ctx context.Context, name string) (domain.Record, error) {
	var rec domain.Record
	err := s.run(ctx, OpGetRecord, name, func(ctx context.Context) error {
		var err error
		rec, err = s.storage.Records().Load(ctx, name)
		return err
	})
	return rec, err
}

// NamedRecord pairs a record with its storage name.
type NamedRecord struct {
	Name   string        `json:"name"`
	Record domain.Record `json:"record"`
}

// ListRecords returns every loadable record in name order. Unreadable
// records are logged and skipped.
func (s *Service) ListRecords(ctx context.Context) ([]NamedRecord, error) {
	var out []NamedRecord
	err := s.run(ctx, OpListRecords, "", func(ctx context.Context) error {
		var err error
		out, err = s.loadAll(ctx)
		return err
	})
	return out, err
}

func (s *Service) loadAll(ctx context.Context) ([]NamedRecord, error) {
	names, err := s.storage.Records().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NamedRecord, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.storage.Records().Load(ctx, name)
		switch {
		case err == nil:
			out = append(out, NamedRecord{Name: name, Record: rec})
		case domain.IsMalformed(err), domain.IsNotFound(err):
			s.logger.Warn("skipping record", "record", name, "error", err)
		default:
			return nil, err
		}
	}
	return out, nil
}

// DeleteRecord removes the current state of a record, reporting whether it
// existed. Its history is kept.
func (s *Service) DeleteRecord(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := s.run(ctx, OpDeleteRecord, name, func(ctx context.Context) error {
		var err error
		existed, err = s.storage.Records().Delete(ctx, name)
		return err
	})
	return existed, err
}

// History returns a record's version entries in append order.
func (s *Service) History(ctx context.Context, name string) ([]domain.VersionEntry, error) {
	var entries []domain.VersionEntry
	err := s.run(ctx, OpHistory, name, func(ctx context.Context) error {
		var err error
		entries, err = s.storage.History().Read(ctx, name)
		return err
	})
	return entries, err
}

// SearchRecords returns the records where any of fields contains query,
// ignoring case. No fields means DefaultSearchFields.
func (s *Service) SearchRecords(ctx context.Context, query string, fields []string) ([]NamedRecord, error) {
	var out []NamedRecord
	err := s.run(ctx, OpSearch, "", func(ctx context.Context) error {
		all, err := s.loadAll(ctx)
		if err != nil {
			return err
		}
		out = FilterRecords(all, query, fields)
		return nil
	})
	return out, err
}

// Extract builds a report for criteria.
func (s *Service) Extract(ctx context.Context, criteria domain.ReportCriteria) (domain.ExtractedReport, error) {
	var out domain.ExtractedReport
	err := s.run(ctx, OpExtract, criteria.Identity, func(ctx context.Context) error {
		var err error
		out, err = s.engine.Extract(ctx, criteria)
		return err
	})
	return out, err
}

// Backup archives every current record.
func (s *Service) Backup(ctx context.Context) (backup.Archive, error) {
	var archive backup.Archive
	err := s.run(ctx, OpBackup, "", func(ctx context.Context) error {
		if s.backups == nil {
			return ErrBackupsDisabled
		}
		var err error
		archive, err = s.backups.Backup(ctx)
		return err
	})
	return archive, err
}

// Restore saves every valid record from the archive at key.
func (s *Service) Restore(ctx context.Context, key string) (backup.RestoreReport, error) {
	var rep backup.RestoreReport
	err := s.run(ctx, OpRestore, key, func(ctx context.Context) error {
		if s.backups == nil {
			return ErrBackupsDisabled
		}
		var err error
		rep, err = s.backups.Restore(ctx, key)
		return err
	})
	return rep, err
}

// ListBackups returns the stored archives, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]backup.Archive, error) {
	var out []backup.Archive
	err := s.run(ctx, OpListBackups, "", func(ctx context.Context) error {
		if s.backups == nil {
			return ErrBackupsDisabled
		}
		var err error
		out, err = s.backups.List(ctx)
		return err
	})
	return out, err
}
