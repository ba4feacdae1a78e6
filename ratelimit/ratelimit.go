// Package ratelimit decides whether a client may count another visit for a
// resource. The endpoint answers 429 when it may not.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/eternovinculo/visitguard"
)

// DefaultWindow is how long a client must wait before the same resource is
// counted again for it.
const DefaultWindow = time.Hour

type Result struct {
	Allowed    bool
	RetryAfter time.Duration // set when !Allowed
}

type Limiter interface {
	Allow(ctx context.Context, client string, kind visitguard.Kind, slug string) (Result, error)
}

// Releaser is implemented by limiters that can hand back an allowance when
// the visit was not counted after all (unknown slug, storage failure).
type Releaser interface {
	Release(ctx context.Context, client string, kind visitguard.Kind, slug string) error
}

// Key builds the per-client, per-resource identifier. Whitespace is replaced
// so the result is safe as a Redis key segment.
func Key(client string, kind visitguard.Kind, slug string) string {
	return safe(client) + ":" + string(kind) + ":" + safe(slug)
}

func safe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return '_'
		}
		return r
	}, s)
}
