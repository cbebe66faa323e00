package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to block storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobReader retrieves objects from block storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports aged ledger records to block storage. Deleting the
// archived rows from the primary store is a separate, explicit step taken
// after the archive upload has been verified.
type Archiver interface {
	ArchiveEntries(ctx context.Context, before time.Time) (int64, error)
}
