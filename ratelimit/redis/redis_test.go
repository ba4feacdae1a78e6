package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/ratelimit"
)

func TestAllowOncePerWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	prefix := "test:" + t.Name() + ":"
	l, err := New(Config{Client: rdb, Prefix: prefix, Window: time.Minute})
	require.NoError(t, err)
	defer rdb.Del(ctx, prefix+ratelimit.Key("c1", visitguard.KindCouple, "ana-y-luis"))

	res, err := l.Allow(ctx, "c1", visitguard.KindCouple, "ana-y-luis")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "c1", visitguard.KindCouple, "ana-y-luis")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.RetryAfter > 0 && res.RetryAfter <= time.Minute, "retry after %s", res.RetryAfter)

	require.NoError(t, l.Release(ctx, "c1", visitguard.KindCouple, "ana-y-luis"))
	res, err = l.Allow(ctx, "c1", visitguard.KindCouple, "ana-y-luis")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewDefaults(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	l, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})})
	require.NoError(t, err)
	defer l.rdb.Close()
	assert.Equal(t, "rl:visit:", l.prefix)
	assert.Equal(t, ratelimit.DefaultWindow, l.window)
}
