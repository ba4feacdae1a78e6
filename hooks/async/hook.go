// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    MirrorErrorEvery: 10, // sample logs: ~every 10th mirror failure
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	g, _ := visitguard.NewGuard(visitguard.GuardOptions{
//	    Mirror: m,
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/eternovinculo/visitguard"
)

type Hooks struct {
	inner visitguard.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex // guards closed against sends on a closed q
	closed  bool
	dropped atomic.Uint64
}

var _ visitguard.Hooks = (*Hooks)(nil)

func New(inner visitguard.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full
// or the decorator was closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) IncrementStarted(k visitguard.Key) { h.try(func() { h.inner.IncrementStarted(k) }) }
func (h *Hooks) IncrementRateLimited(k visitguard.Key) {
	h.try(func() { h.inner.IncrementRateLimited(k) })
}
func (h *Hooks) IncrementCompleted(k visitguard.Key, n int64) {
	h.try(func() { h.inner.IncrementCompleted(k, n) })
}
func (h *Hooks) IncrementFailed(k visitguard.Key, err error) {
	h.try(func() { h.inner.IncrementFailed(k, err) })
}
func (h *Hooks) MirrorError(op string, k visitguard.Key, err error) {
	h.try(func() { h.inner.MirrorError(op, k, err) })
}
func (h *Hooks) RemoteEvent(k visitguard.Key, s visitguard.State) {
	h.try(func() { h.inner.RemoteEvent(k, s) })
}
