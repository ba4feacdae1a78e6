// Package counter holds the authoritative visit totals behind the increment
// endpoint.
package counter

import (
	"context"
	"errors"

	"github.com/eternovinculo/visitguard"
)

// ErrNotFound means the slug does not name a published resource of that kind.
var ErrNotFound = errors.New("counter: not found")

// Counter increments visit totals atomically in its backing store.
type Counter interface {
	// Increment adds one visit and returns the new total.
	Increment(ctx context.Context, kind visitguard.Kind, slug string) (int64, error)
	// Get returns the current total without changing it.
	Get(ctx context.Context, kind visitguard.Kind, slug string) (int64, error)
}
