package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eternovinculo/visitguard/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// updateAttempts bounds optimistic retries in Update.
const updateAttempts = 16

// Redis stores records as plain string values.
type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Prefix      string // prepended to every key, e.g. "app:prod:"
	CloseClient bool   // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Update is optimistic: the key is WATCHed during the read and the write is
// retried when another client changed it first.
func (s *Redis) Update(ctx context.Context, key string, ttl time.Duration, fn store.UpdateFunc) error {
	if ttl < 0 {
		ttl = 0
	}
	k := s.prefix + key
	txf := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, goredis.Nil) {
			cur, found = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if next == nil {
				p.Del(ctx, k)
			} else {
				p.Set(ctx, k, next, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < updateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		switch {
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, store.ErrUnchanged):
			return nil
		default:
			return err
		}
	}
	return store.ErrConflict
}

func (s *Redis) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
