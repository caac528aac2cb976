package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs echoes the object key back; gdrive returns the real
	// file id so the object can be read later.
	ObjectKey string
	Size      int64
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

// StorageProvider abstracts where staged assets and job artifacts live
// (localfs, gdrive, s3, ...).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	// DeleteObject is idempotent: deleting an absent object is not an
	// error, so cleanup passes can retry safely.
	DeleteObject(ctx context.Context, objectKey string) error

	// Optional capability; providers that cannot sign return an error.
	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)
}

// ObjectOpener is an optional interface for providers whose objects are
// seekable. Result delivery uses it to serve ranged reads; providers
// without it fall back to a plain copy.
type ObjectOpener interface {
	OpenObject(ctx context.Context, objectKey string) (rsc io.ReadSeekCloser, modTime time.Time, err error)
}
