package mirror

import (
	"context"
	"sync"
	"time"
)

// Local keeps markers in-process. Markers survive Guard re-creation within
// the process but not a restart. With retention > 0 a sweep loop forgets
// markers older than retention, so a visitor is counted again after that.
type Local struct {
	mu    sync.RWMutex
	kinds map[string]map[string]time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	retention time.Duration
	now       func() time.Time
}

var _ Mirror = (*Local)(nil)

func NewLocal(sweepInterval, retention time.Duration) *Local {
	m := &Local{
		kinds:     make(map[string]map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
	if sweepInterval > 0 && retention > 0 {
		m.ticker = time.NewTicker(sweepInterval)
		m.stopCh = make(chan struct{})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-m.ticker.C:
					m.Sweep(retention)
				case <-m.stopCh:
					return
				}
			}
		}()
	}
	return m
}

func (m *Local) Completed(_ context.Context, kind, id string) (bool, error) {
	m.mu.RLock()
	at, ok := m.kinds[kind][id]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if m.retention > 0 && m.now().Sub(at) > m.retention {
		return false, nil
	}
	return true, nil
}

func (m *Local) MarkCompleted(_ context.Context, kind, id string) error {
	now := m.now()
	m.mu.Lock()
	ids := m.kinds[kind]
	if ids == nil {
		ids = make(map[string]time.Time)
		m.kinds[kind] = ids
	}
	if _, ok := ids[id]; !ok {
		ids[id] = now
	}
	m.mu.Unlock()
	return nil
}

func (m *Local) Clear(_ context.Context, kind, id string) error {
	m.mu.Lock()
	if ids := m.kinds[kind]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.kinds, kind)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Local) ClearKind(_ context.Context, kind string) error {
	m.mu.Lock()
	delete(m.kinds, kind)
	m.mu.Unlock()
	return nil
}

func (m *Local) ClearAll(_ context.Context) error {
	m.mu.Lock()
	m.kinds = make(map[string]map[string]time.Time)
	m.mu.Unlock()
	return nil
}

// Sweep forgets markers older than retention.
func (m *Local) Sweep(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := m.now().Add(-retention)

	m.mu.Lock()
	for kind, ids := range m.kinds {
		for id, at := range ids {
			if at.Before(cutoff) {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(m.kinds, kind)
		}
	}
	m.mu.Unlock()
}

// Len returns the number of markers held.
func (m *Local) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ids := range m.kinds {
		n += len(ids)
	}
	return n
}

func (m *Local) Close(_ context.Context) error {
	m.once.Do(func() {
		if m.stopCh != nil {
			m.ticker.Stop()
			close(m.stopCh)
			m.wg.Wait()
		}
	})
	return nil
}
