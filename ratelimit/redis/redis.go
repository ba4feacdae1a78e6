package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/ratelimit"
)

type Config struct {
	Client goredis.UniversalClient
	Prefix string        // default "rl:visit:"
	Window time.Duration // 0 => ratelimit.DefaultWindow
}

// Limiter shares the window across every endpoint replica: the first
// request sets a marker with SET NX EX, later ones see it until it expires.
type Limiter struct {
	rdb    goredis.UniversalClient
	prefix string
	window time.Duration
}

var (
	_ ratelimit.Limiter  = (*Limiter)(nil)
	_ ratelimit.Releaser = (*Limiter)(nil)
)

func New(cfg Config) (*Limiter, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis limiter: nil client")
	}
	l := &Limiter{rdb: cfg.Client, prefix: cfg.Prefix, window: cfg.Window}
	if l.prefix == "" {
		l.prefix = "rl:visit:"
	}
	if l.window <= 0 {
		l.window = ratelimit.DefaultWindow
	}
	return l, nil
}

func (l *Limiter) Allow(ctx context.Context, client string, kind visitguard.Kind, slug string) (ratelimit.Result, error) {
	key := l.prefix + ratelimit.Key(client, kind, slug)

	ok, err := l.rdb.SetNX(ctx, key, 1, l.window).Result()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("redis limiter: setnx: %w", err)
	}
	if ok {
		return ratelimit.Result{Allowed: true}, nil
	}

	// When key missing, TTL returns -2; when no expire, -1
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("redis limiter: ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = l.window
	}
	return ratelimit.Result{Allowed: false, RetryAfter: ttl}, nil
}

func (l *Limiter) Release(ctx context.Context, client string, kind visitguard.Kind, slug string) error {
	if err := l.rdb.Del(ctx, l.prefix+ratelimit.Key(client, kind, slug)).Err(); err != nil {
		return fmt.Errorf("redis limiter: del: %w", err)
	}
	return nil
}
