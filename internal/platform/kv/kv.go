// Package kv provides the key/value persistence port the workspace ledgers are
// kept in, with in-memory, SQLite and Postgres backends.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or has
// been deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed store of opaque byte values. Implementations must make
// a successful Set visible to every subsequent Get, in any goroutine.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
