// Package core defines the blob storage abstraction backup archives are
// written to.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a minimal S3-like object store.
type Store interface {
	// Put stores a new blob at key. It fails with ErrExists if the key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the blob's metadata and contents, or ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only, or ErrNotFound.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs whose key has prefix, ascending by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound is wrapped by errors for missing keys.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is wrapped by Put when the key is already taken.
	ErrExists = errors.New("blobstore: already exists")
)

// CloneMetadata returns an independent copy of metadata.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
