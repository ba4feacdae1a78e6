// Package mirror remembers which resources a client has already counted.
//
// A Mirror holds only Completed markers, organised as a two-level map
// kind -> id. In-flight state is volatile and never reaches a mirror.
package mirror

import (
	"context"
	"errors"
)

// ErrRejected is returned when the backing store refused a write.
var ErrRejected = errors.New("mirror: write rejected by store")

// Mirror abstracts where completion markers live.
// Use Local for in-process markers, Record for one structured record in a
// store.Store, or Redis for hashes shared across processes.
type Mirror interface {
	// Completed reports whether kind/id has a completion marker.
	Completed(ctx context.Context, kind, id string) (bool, error)
	// MarkCompleted records a marker. Idempotent.
	MarkCompleted(ctx context.Context, kind, id string) error
	// Clear drops the marker for kind/id (missing is not an error).
	Clear(ctx context.Context, kind, id string) error
	// ClearKind drops every marker of kind.
	ClearKind(ctx context.Context, kind string) error
	// ClearAll drops every marker.
	ClearAll(ctx context.Context) error
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
