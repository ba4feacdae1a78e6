package visitguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternovinculo/visitguard/broadcast"
	"github.com/eternovinculo/visitguard/mirror"
)

type guard struct {
	// mu serializes every check-then-act on the state maps, including the
	// mirror read inside CanIncrement/TryStart.
	mu     sync.Mutex
	kinds  map[Kind]map[string]State // missing => Idle
	remote map[Key]time.Time         // CrossTabLock: remote in-flight lease expiry

	mirror      mirror.Mirror
	closeMirror bool

	ch     broadcast.Channel
	mode   CrossTabMode
	lease  time.Duration
	origin string
	unsub  func()

	log   Logger
	hooks Hooks
	now   func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func newGuard(opts GuardOptions) (*guard, error) {
	if opts.CrossTab != CrossTabOff && opts.Channel == nil {
		return nil, fmt.Errorf("visitguard: cross-tab mode %s needs a Channel", opts.CrossTab)
	}

	g := &guard{
		kinds:       make(map[Kind]map[string]State),
		remote:      make(map[Key]time.Time),
		mirror:      opts.Mirror,
		closeMirror: opts.CloseMirror,
		mode:        opts.CrossTab,
		now:         time.Now,
	}
	if g.mirror == nil {
		g.mirror = mirror.NewLocal(0, 0)
		g.closeMirror = true
	}

	g.log = coalesce[Logger](opts.Logger, NopLogger{})
	g.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	g.lease = coalesce(opts.RemoteLease, defaultRemoteLease)
	g.origin = coalesce(opts.Origin, uuid.NewString())

	if g.mode != CrossTabOff {
		g.ch = opts.Channel
		unsub, err := g.ch.Subscribe(g.onEvent)
		if err != nil {
			return nil, fmt.Errorf("visitguard: subscribe: %w", err)
		}
		g.unsub = unsub
	}
	return g, nil
}

func (g *guard) CanIncrement(ctx context.Context, key Key) bool {
	if key.empty() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canLocked(ctx, key)
}

func (g *guard) StartIncrement(ctx context.Context, key Key) {
	if key.empty() {
		return
	}
	g.mu.Lock()
	g.setLocked(key, InFlight)
	g.mu.Unlock()
	g.publish(ctx, key, InFlight)
}

func (g *guard) TryStart(ctx context.Context, key Key) bool {
	if key.empty() {
		return false
	}
	g.mu.Lock()
	if !g.canLocked(ctx, key) {
		g.mu.Unlock()
		return false
	}
	g.setLocked(key, InFlight)
	g.mu.Unlock()
	g.publish(ctx, key, InFlight)
	return true
}

func (g *guard) CompleteIncrement(ctx context.Context, key Key) {
	if key.empty() {
		return
	}
	g.mu.Lock()
	g.setLocked(key, Completed)
	g.mu.Unlock()

	if err := g.mirror.MarkCompleted(ctx, string(key.Kind), key.ID); err != nil {
		g.mirrorError("mark", key, err)
	}
	g.publish(ctx, key, Completed)
}

func (g *guard) Reset(ctx context.Context, key Key) {
	if key.empty() {
		return
	}
	g.mu.Lock()
	g.deleteLocked(key)
	delete(g.remote, key)
	g.mu.Unlock()

	if err := g.mirror.Clear(ctx, string(key.Kind), key.ID); err != nil {
		g.mirrorError("clear", key, err)
	}
	g.publish(ctx, key, Idle)
}

func (g *guard) ResetKind(ctx context.Context, kind Kind) {
	if kind == "" {
		return
	}
	g.mu.Lock()
	delete(g.kinds, kind)
	for k := range g.remote {
		if k.Kind == kind {
			delete(g.remote, k)
		}
	}
	g.mu.Unlock()

	if err := g.mirror.ClearKind(ctx, string(kind)); err != nil {
		g.mirrorError("clear_kind", Key{Kind: kind}, err)
	}
	g.publish(ctx, Key{Kind: kind}, Idle)
}

func (g *guard) ResetAll(ctx context.Context) {
	g.mu.Lock()
	g.kinds = make(map[Kind]map[string]State)
	g.remote = make(map[Key]time.Time)
	g.mu.Unlock()

	if err := g.mirror.ClearAll(ctx); err != nil {
		g.mirrorError("clear_all", Key{}, err)
	}
	g.publish(ctx, Key{}, Idle)
	g.log.Info("guard reset", Fields{"scope": "all"})
}

func (g *guard) State(key Key) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.kinds[key.Kind][key.ID]
}

func (g *guard) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		if g.unsub != nil {
			g.unsub()
		}
		if g.closeMirror {
			g.closeErr = g.mirror.Close(ctx)
		}
	})
	return g.closeErr
}

// canLocked must be called with g.mu held.
func (g *guard) canLocked(ctx context.Context, key Key) bool {
	if g.kinds[key.Kind][key.ID] != Idle {
		return false
	}
	if g.mode == CrossTabLock {
		if until, ok := g.remote[key]; ok {
			if g.now().Before(until) {
				return false
			}
			delete(g.remote, key)
		}
	}
	done, err := g.mirror.Completed(ctx, string(key.Kind), key.ID)
	if err != nil {
		g.mirrorError("read", key, err)
		return true
	}
	if done {
		g.setLocked(key, Completed)
		return false
	}
	return true
}

func (g *guard) setLocked(key Key, s State) {
	ids := g.kinds[key.Kind]
	if ids == nil {
		ids = make(map[string]State)
		g.kinds[key.Kind] = ids
	}
	ids[key.ID] = s
}

func (g *guard) deleteLocked(key Key) {
	ids := g.kinds[key.Kind]
	if ids == nil {
		return
	}
	delete(ids, key.ID)
	if len(ids) == 0 {
		delete(g.kinds, key.Kind)
	}
}

func (g *guard) mirrorError(op string, key Key, err error) {
	g.log.Warn("mirror error", Fields{"op": op, "key": key.String(), "err": err})
	g.hooks.MirrorError(op, key, err)
}

// publish announces a transition. Called without g.mu held: Local channels
// deliver synchronously to other guards, which take their own locks.
func (g *guard) publish(ctx context.Context, key Key, s State) {
	if g.ch == nil {
		return
	}
	if s == InFlight && g.mode != CrossTabLock {
		return
	}
	err := g.ch.Publish(ctx, broadcast.Event{
		Origin: g.origin,
		Kind:   string(key.Kind),
		ID:     key.ID,
		State:  s.String(),
		At:     g.now(),
	})
	if err != nil {
		g.log.Warn("broadcast publish failed", Fields{"key": key.String(), "state": s.String(), "err": err})
	}
}

func (g *guard) onEvent(e broadcast.Event) {
	if e.Origin == g.origin {
		return
	}
	s, ok := parseState(e.State)
	if !ok {
		g.log.Debug("ignoring broadcast event", Fields{"state": e.State, "origin": e.Origin})
		return
	}
	key := Key{Kind: Kind(e.Kind), ID: e.ID}

	g.mu.Lock()
	switch s {
	case Completed:
		if !key.empty() {
			g.setLocked(key, Completed)
			delete(g.remote, key)
		}
	case InFlight:
		if g.mode == CrossTabLock && !key.empty() {
			g.remote[key] = g.now().Add(g.lease)
		}
	case Idle:
		g.forgetLocked(key)
	}
	g.mu.Unlock()

	g.hooks.RemoteEvent(key, s)
}

// forgetLocked drops cached completions and remote leases matched by a remote
// reset. Local in-flight attempts are kept: they finish on their own.
func (g *guard) forgetLocked(key Key) {
	match := func(k Kind, id string) bool {
		switch {
		case key.Kind == "":
			return true
		case key.ID == "":
			return k == key.Kind
		default:
			return k == key.Kind && id == key.ID
		}
	}
	for kind, ids := range g.kinds {
		for id, s := range ids {
			if s == Completed && match(kind, id) {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(g.kinds, kind)
		}
	}
	for k := range g.remote {
		if match(k.Kind, k.ID) {
			delete(g.remote, k)
		}
	}
}
