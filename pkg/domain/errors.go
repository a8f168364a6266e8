package domain

import (
	"errors"
	"fmt"
)

// Kind names the stored object an error refers to.
type Kind string

// Stored object kinds.
const (
	KindRecord  Kind = "record"
	KindHistory Kind = "history"
	KindArchive Kind = "archive"
)

// ErrNotFound is returned when a record, log or archive does not exist.
type ErrNotFound struct {
	Kind Kind
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// IsNotFound reports whether err is, or wraps, an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// MalformedError reports a stored document that could not be decoded. Line is
// 1-based and only set for log entries.
type MalformedError struct {
	Source string
	Line   int
	Err    error
}

func (e MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed %s line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed %s: %v", e.Source, e.Err)
}

func (e MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is, or wraps, a MalformedError.
func IsMalformed(err error) bool {
	var me MalformedError
	return errors.As(err, &me)
}

// ValidationError rejects a record or query before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a failure of the underlying storage. Writes propagate it
// to the caller unchanged.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }
