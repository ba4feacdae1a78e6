// Package broadcast carries guard state changes between clients that share a
// durable mirror ("tabs"). Delivery is best effort: a missed event only means
// a tab finds out about a completion on its next mirror read.
package broadcast

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("broadcast: closed")

// Event announces a state change of one key. State is one of "in_flight",
// "completed" or "idle"; an idle event with an empty ID resets a whole kind,
// and one with an empty Kind resets everything.
type Event struct {
	Origin string    `json:"origin"`
	Kind   string    `json:"kind"`
	ID     string    `json:"id"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
}

// Channel fans events out to every subscriber, including the publisher's own
// subscriptions; receivers filter by Origin.
type Channel interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers fn. fn must not block; it may be called from a
	// background goroutine. cancel is idempotent.
	Subscribe(fn func(Event)) (cancel func(), err error)
	Close() error
}
