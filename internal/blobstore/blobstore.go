// Package blobstore defines the Blob Store Client used to fetch guest
// ELF images, job inputs, and assumption receipts, and to persist
// execution logs and preflight journals.
package blobstore

import "context"

// Client abstracts object storage by key. Implementations must treat a
// missing key as ErrNotFound, not a generic error, so callers can
// distinguish "doesn't exist" from a transient IoError.
type Client interface {
	// Get fetches the full object body for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put uploads body under key, overwriting any existing object.
	Put(ctx context.Context, key string, body []byte) error

	// Exists reports whether key is present without downloading it.
	Exists(ctx context.Context, key string) (bool, error)
}
