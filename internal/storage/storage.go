// package storage abstracts where uploaded document bytes live. The
// workflow core only records the returned path; it never assumes a
// specific backend.
package storage

import (
	"context"
	"io"
)

// Blob stores document payloads addressed by path.
type Blob interface {
	// Store writes the payload and returns the canonical path it was
	// stored under.
	Store(ctx context.Context, r io.Reader, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}
