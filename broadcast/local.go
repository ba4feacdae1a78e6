package broadcast

import (
	"context"
	"sync"
)

// Local delivers events synchronously to subscribers in the same process.
// It models several tabs of one browser profile living in one process.
type Local struct {
	mu     sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
	closed bool
}

var _ Channel = (*Local)(nil)

func NewLocal() *Local {
	return &Local{subs: make(map[uint64]func(Event))}
}

// Publish calls every subscriber before returning. Subscribers run without
// the channel lock held, so they may publish or unsubscribe.
func (l *Local) Publish(_ context.Context, e Event) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	fns := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
	return nil
}

func (l *Local) Subscribe(fn func(Event)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.subs = make(map[uint64]func(Event))
	l.mu.Unlock()
	return nil
}
