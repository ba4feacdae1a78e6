package mirror

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps one hash per kind: key "vg:<ns>:<kind>", field = id,
// value = completion time in unix milliseconds. Markers are shared by every
// process using the same namespace and survive restarts.
// With ttl > 0 the hash expiry is refreshed on every mark, so a kind nobody
// visits for ttl is forgotten as a whole.
type RedisMirror struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
	now func() time.Time
}

var _ Mirror = (*RedisMirror)(nil)

// NewRedis creates a Redis-backed mirror without expiry.
func NewRedis(client redis.UniversalClient, namespace string) *RedisMirror {
	return &RedisMirror{rdb: client, ns: namespace, now: time.Now}
}

// NewRedisWithTTL creates a Redis-backed mirror with expiry; ttl <= 0 disables it.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: client, ns: namespace, ttl: ttl, now: time.Now}
}

func (m *RedisMirror) key(kind string) string { return "vg:" + m.ns + ":" + kind }

func (m *RedisMirror) Completed(ctx context.Context, kind, id string) (bool, error) {
	return m.rdb.HExists(ctx, m.key(kind), id).Result()
}

// MarkCompleted uses HSETNX so the first completion time is kept. When ttl > 0,
// HSETNX + EXPIRE are pipelined in a single round-trip.
func (m *RedisMirror) MarkCompleted(ctx context.Context, kind, id string) error {
	k := m.key(kind)
	at := strconv.FormatInt(m.now().UnixMilli(), 10)
	if m.ttl <= 0 {
		return m.rdb.HSetNX(ctx, k, id, at).Err()
	}
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, k, id, at)
		p.Expire(ctx, k, m.ttl)
		return nil
	})
	return err
}

func (m *RedisMirror) Clear(ctx context.Context, kind, id string) error {
	return m.rdb.HDel(ctx, m.key(kind), id).Err()
}

func (m *RedisMirror) ClearKind(ctx context.Context, kind string) error {
	return m.rdb.Del(ctx, m.key(kind)).Err()
}

// ClearAll scans the namespace and deletes every kind hash.
func (m *RedisMirror) ClearAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, "vg:"+m.ns+":*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// CompletedAt returns when kind/id was completed.
func (m *RedisMirror) CompletedAt(ctx context.Context, kind, id string) (time.Time, bool, error) {
	v, err := m.rdb.HGet(ctx, m.key(kind), id).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Close does not close the client: it is usually shared with other components.
func (m *RedisMirror) Close(context.Context) error { return nil }
