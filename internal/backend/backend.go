// Package backend defines the §6 StorageDriver external interface and the
// four concrete drivers (local filesystem, HDFS, S3, Azure Blob) that
// implement it. Source and target storage are each just a Driver; the
// pipeline never branches on which one it has.
package backend

import (
	"context"
	"fmt"
	"io"
	"time"
)

// FileInfo describes one entry yielded by Walk.
type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	IsDir        bool
}

// Driver is the storage abstraction every pipeline component reads and
// writes through. Implementations are assumed safe for concurrent use by
// independent workers, but not necessarily for concurrent writes to the
// same path.
type Driver interface {
	// Exists reports whether path names an object.
	Exists(ctx context.Context, path string) (bool, error)
	// Size returns the byte length of the object at path.
	Size(ctx context.Context, path string) (int64, error)
	// NewInputStream opens path for sequential reading.
	NewInputStream(ctx context.Context, path string) (io.ReadCloser, error)
	// NewBufferedReader opens path for reading with internal buffering
	// appropriate to the backend (e.g. larger network reads for remote
	// drivers). Callers that only need a handful of sequential reads may
	// use NewInputStream instead.
	NewBufferedReader(ctx context.Context, path string) (io.ReadCloser, error)
	// Store publishes the contents of localStaging (a path on the local
	// filesystem) to targetPath, atomically replacing any existing object.
	Store(ctx context.Context, localStaging, targetPath string) error
	// Move relocates src to dst within the same driver.
	Move(ctx context.Context, src, dst string) error
	// Delete removes the object at path. Deleting a path that does not
	// exist is not an error.
	Delete(ctx context.Context, path string) error
	// Walk lists entries under root, descending at most depth levels (0 =
	// root's immediate children only; negative = unbounded).
	Walk(ctx context.Context, root string, depth int) ([]FileInfo, error)
}

// ErrUnknownDriver names an unrecognised driver kind. No function in this
// package returns it; config.BackendConfig.Build reports an unknown kind
// with config.ErrUnknownBackend.
var ErrUnknownDriver = fmt.Errorf("backend: unknown driver")
