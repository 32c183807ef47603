package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: blob not found")

var errEmptyID = errors.New("storage: empty id")

// BlobStore is the opaque key-value boundary used by the vault. Values are
// always ciphertext records; the store never interprets them.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// List returns the ids starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
