// Package blob is the single entry point to archive storage. It re-exports
// the core abstractions and selects a backend from configuration.
package blob

import (
	"circlereports/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound is wrapped by lookups of missing keys.
	ErrNotFound = core.ErrNotFound
	// ErrExists is wrapped by Put on an existing key.
	ErrExists = core.ErrExists
)
