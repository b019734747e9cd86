package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a blob key does not exist in the backend.
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrInvalidKey is returned for keys that are empty or escape the storage root.
var ErrInvalidKey = errors.New("storage: invalid key")

// BlobInfo describes one stored object during a walk.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// BlobStore is the blob backend used for uploaded question files.
// Delete is idempotent: deleting a missing key is not an error.
type BlobStore interface {
	Save(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// LocalPath exposes the blob as a file on disk for tools that need a path.
	// release must always be called once the caller is done with the path.
	LocalPath(ctx context.Context, key string) (path string, release func(), err error)
	Walk(ctx context.Context, fn func(BlobInfo) error) error
}
