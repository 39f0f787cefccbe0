package token

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Take when the key is absent or expired.
var ErrNotFound = errors.New("token store: key not found")

// Store is an expiring key-value store with an atomic get-and-delete.
// Implementations must guarantee that for concurrent Take calls on the same key at most one returns the value.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
}
