package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eternovinculo/visitguard"
)

type MemoryOptions struct {
	Window        time.Duration // 0 => DefaultWindow
	SweepInterval time.Duration // 0 => Window; <0 disables the sweep loop
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Memory allows one visit per key per Window using a token bucket of size 1
// refilled every Window. Entries idle for a full Window are swept: their
// bucket would be full again anyway.
type Memory struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	now  func() time.Time
}

var (
	_ Limiter  = (*Memory)(nil)
	_ Releaser = (*Memory)(nil)
)

func NewMemory(opts MemoryOptions) *Memory {
	m := &Memory{
		window:  opts.Window,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if m.window <= 0 {
		m.window = DefaultWindow
	}
	sweep := opts.SweepInterval
	if sweep == 0 {
		sweep = m.window
	}
	if sweep > 0 {
		t := time.NewTicker(sweep)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer t.Stop()
			for {
				select {
				case <-t.C:
					m.Sweep()
				case <-m.stop:
					return
				}
			}
		}()
	}
	return m
}

func (m *Memory) Allow(_ context.Context, client string, kind visitguard.Kind, slug string) (Result, error) {
	key := Key(client, kind, slug)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil {
		e = &entry{lim: rate.NewLimiter(rate.Every(m.window), 1)}
		m.entries[key] = e
	}
	e.seen = now

	r := e.lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: d}, nil
	}
	return Result{Allowed: true}, nil
}

func (m *Memory) Release(_ context.Context, client string, kind visitguard.Kind, slug string) error {
	m.mu.Lock()
	delete(m.entries, Key(client, kind, slug))
	m.mu.Unlock()
	return nil
}

// Sweep drops entries not seen for a full window.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.window)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.seen.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the sweep loop. Allow keeps working afterwards.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
	return nil
}
