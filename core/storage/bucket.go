// Package storage abstracts the object store the packager reads source
// archives from and publishes installer bundles to.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound reports a missing object key.
var ErrObjectNotFound = errors.New("object not found")

// ErrNoURLSigner reports that the configured credentials cannot derive a
// shared-key URL signer. Callers treat a missing signed URL as "requires
// separate authorization", not as a failure.
var ErrNoURLSigner = errors.New("credentials cannot sign URLs")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Bucket is a flat keyed object store. Puts overwrite unconditionally:
// publishing is idempotent replacement, last writer wins.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// URL returns the plain (possibly private) object URL.
	URL(key string) string
	// SignedURL mints a read-only URL valid for ttl, or ErrNoURLSigner.
	SignedURL(key string, ttl time.Duration) (string, error)
}
