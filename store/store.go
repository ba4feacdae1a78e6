// Package store defines the byte storage behind mirror.Record.
//
// A Store is the Go analogue of browser local storage: a flat key/value space
// the mirror writes one framed record into. Implementations MUST be
// byte-for-byte transparent: Get returns exactly the bytes passed to Set.
//
// Pick by lifetime:
//   - sqlite: survives process restarts (CLI, desktop, kiosk clients).
//   - redis: shared by every process pointing at the same server.
//   - bigcache, ristretto: process lifetime only (server-side rendering).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("store: closed")
	// ErrRejected is returned by Update when the store refused the write.
	ErrRejected = errors.New("store: write rejected")
	// ErrConflict is returned by Update when concurrent writers kept
	// invalidating the read.
	ErrConflict = errors.New("store: update conflict")
	// ErrUnchanged, returned from an UpdateFunc, leaves the value as it was.
	// Update then returns nil.
	ErrUnchanged = errors.New("store: unchanged")
)

// UpdateFunc computes the next value from the current one. cur is nil and
// found false on a miss. A nil next deletes the key.
type UpdateFunc func(cur []byte, found bool) (next []byte, err error)

// Store is a minimal byte store with TTLs. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry where supported).
	// cost is a size hint for cost-aware stores.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Update runs a read-modify-write of key as one atomic step, also
	// against other processes sharing the store. fn may run more than once.
	// next is stored with ttl (<= 0 means no expiry where supported).
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// Del removes a key (best-effort; missing keys are not an error).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
