package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/counter"
)

// incrKnown increments KEYS[1] only when ARGV[1] is a member of KEYS[2].
// Returns -1 for an unknown slug.
var incrKnown = goredis.NewScript(`
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 0 then
  return -1
end
return redis.call("INCR", KEYS[1])
`)

type Config struct {
	Client goredis.UniversalClient
	Prefix string // prepended to every key
	// KnownSlugs makes Increment refuse slugs missing from the set
	// "<prefix>slugs:<kind>" with counter.ErrNotFound.
	KnownSlugs bool
}

// Counter keeps one integer per resource at "<prefix>visits:<kind>:<slug>".
type Counter struct {
	rdb    goredis.UniversalClient
	prefix string
	known  bool
}

var _ counter.Counter = (*Counter)(nil)

func New(cfg Config) (*Counter, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis counter: nil client")
	}
	return &Counter{rdb: cfg.Client, prefix: cfg.Prefix, known: cfg.KnownSlugs}, nil
}

func (c *Counter) visitsKey(kind visitguard.Kind, slug string) string {
	return c.prefix + "visits:" + string(kind) + ":" + slug
}

func (c *Counter) slugsKey(kind visitguard.Kind) string {
	return c.prefix + "slugs:" + string(kind)
}

func (c *Counter) Increment(ctx context.Context, kind visitguard.Kind, slug string) (int64, error) {
	if !c.known {
		n, err := c.rdb.Incr(ctx, c.visitsKey(kind, slug)).Result()
		if err != nil {
			return 0, fmt.Errorf("redis counter: incr: %w", err)
		}
		return n, nil
	}
	n, err := incrKnown.Run(ctx, c.rdb, []string{c.visitsKey(kind, slug), c.slugsKey(kind)}, slug).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis counter: incr: %w", err)
	}
	if n < 0 {
		return 0, counter.ErrNotFound
	}
	return n, nil
}

func (c *Counter) Get(ctx context.Context, kind visitguard.Kind, slug string) (int64, error) {
	if c.known {
		ok, err := c.rdb.SIsMember(ctx, c.slugsKey(kind), slug).Result()
		if err != nil {
			return 0, fmt.Errorf("redis counter: sismember: %w", err)
		}
		if !ok {
			return 0, counter.ErrNotFound
		}
	}
	n, err := c.rdb.Get(ctx, c.visitsKey(kind, slug)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter: get: %w", err)
	}
	return n, nil
}

// Publish registers slug as a known resource of kind.
func (c *Counter) Publish(ctx context.Context, kind visitguard.Kind, slugs ...string) error {
	if len(slugs) == 0 {
		return nil
	}
	members := make([]any, len(slugs))
	for i, s := range slugs {
		members[i] = s
	}
	return c.rdb.SAdd(ctx, c.slugsKey(kind), members...).Err()
}

// Unpublish removes slug from the known set; its total is kept.
func (c *Counter) Unpublish(ctx context.Context, kind visitguard.Kind, slug string) error {
	return c.rdb.SRem(ctx, c.slugsKey(kind), slug).Err()
}
