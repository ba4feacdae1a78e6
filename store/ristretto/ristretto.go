package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/eternovinculo/visitguard/store"
)

// Store keeps records in a ristretto cache. Admission is probabilistic, so Set
// may report ok=false; the mirror surfaces that as a rejected write.
type Store struct {
	mu sync.Mutex // serializes writers for Update
	c  *rc.Cache
}

var _ store.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

// DefaultConfig sizes the cache for a few thousand mirror records.
func DefaultConfig() Config {
	return Config{NumCounters: 1e4, MaxCost: 8 << 20, BufferItems: 64}
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write buffer so a following Get observes the value.
func (s *Store) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(key, value, cost, ttl), nil
}

func (s *Store) set(key string, value []byte, cost int64, ttl time.Duration) bool {
	if cost <= 0 {
		cost = int64(len(value))
	}
	var ok bool
	if ttl > 0 {
		ok = s.c.SetWithTTL(key, value, cost, ttl)
	} else {
		ok = s.c.Set(key, value, cost)
	}
	s.c.Wait()
	return ok
}

func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found, _ := s.Get(ctx, key)
	next, err := fn(cur, found)
	if errors.Is(err, store.ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	if next == nil {
		s.c.Del(key)
		s.c.Wait()
		return nil
	}
	if !s.set(key, next, int64(len(next)), ttl) {
		return store.ErrRejected
	}
	return nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Del(key)
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
