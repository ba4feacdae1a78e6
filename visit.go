package visitguard

import (
	"context"
	"errors"
	"sync"
)

// Incrementer is the remote increment endpoint. client.Client implements it.
// A rate-limit refusal must satisfy errors.Is(err, ErrRateLimited).
type Incrementer interface {
	IncrementVisit(ctx context.Context, kind Kind, slug string) (int64, error)
}

// IncrementerFunc adapts a function to Incrementer.
type IncrementerFunc func(ctx context.Context, kind Kind, slug string) (int64, error)

func (f IncrementerFunc) IncrementVisit(ctx context.Context, kind Kind, slug string) (int64, error) {
	return f(ctx, kind, slug)
}

// VisitError is the error a Visit exposes to its view. Error returns the
// user-facing message; Unwrap returns what actually failed.
type VisitError struct {
	Message string
	Cause   error
}

func (e *VisitError) Error() string { return e.Message }
func (e *VisitError) Unwrap() error { return e.Cause }

// VisitState is what a view renders.
type VisitState struct {
	Count   int64 // last count from the server, or the initial value
	Loading bool
	Err     error // nil, or a *VisitError
}

// Visit binds a Guard to one mounted view of one resource. The count shown is
// only ever the initial value or a value returned by the server.
type Visit struct {
	guard    Guard
	inc      Incrementer
	key      Key
	log      Logger
	hooks    Hooks
	onChange func(VisitState)

	mu        sync.Mutex
	state     VisitState
	mounted   bool
	attempted bool // one-shot flag; cleared after a retryable failure
}

type VisitOption func(*Visit)

// WithInitialCount sets the count displayed before the server answers.
func WithInitialCount(n int64) VisitOption {
	return func(v *Visit) { v.state.Count = n }
}

func WithLogger(l Logger) VisitOption {
	return func(v *Visit) { v.log = coalesce[Logger](l, NopLogger{}) }
}

func WithHooks(h Hooks) VisitOption {
	return func(v *Visit) { v.hooks = coalesce[Hooks](h, NopHooks{}) }
}

// WithOnChange registers a callback invoked with a copy of the state after
// every change. It runs on the goroutine that called Mount/IncrementVisit.
func WithOnChange(fn func(VisitState)) VisitOption {
	return func(v *Visit) { v.onChange = fn }
}

func NewVisit(g Guard, inc Incrementer, key Key, opts ...VisitOption) *Visit {
	v := &Visit{
		guard: g,
		inc:   inc,
		key:   key,
		log:   NopLogger{},
		hooks: NopHooks{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Key returns the resource this visit counts.
func (v *Visit) Key() Key { return v.key }

// State returns a copy of the current view state.
func (v *Visit) State() VisitState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mount runs IncrementVisit the first time it is called on v; later calls
// (effect re-runs, double renders) do nothing.
func (v *Visit) Mount(ctx context.Context) {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = true
	v.mu.Unlock()
	v.IncrementVisit(ctx)
}

// IncrementVisit counts the visit if neither this Visit nor the Guard has
// done so already. It never returns an error: failures land in State().Err.
// Only the first eligible call per key per guard performs network I/O.
func (v *Visit) IncrementVisit(ctx context.Context) {
	if v.key.empty() {
		return
	}

	v.mu.Lock()
	if v.attempted {
		v.mu.Unlock()
		return
	}
	v.attempted = true
	v.mu.Unlock()

	if !v.guard.TryStart(ctx, v.key) {
		v.log.Debug("visit already counted or in flight", Fields{"key": v.key.String()})
		return
	}

	v.update(func(s *VisitState) {
		s.Loading = true
		s.Err = nil
	})
	v.hooks.IncrementStarted(v.key)

	count, err := v.inc.IncrementVisit(ctx, v.key.Kind, v.key.ID)
	switch {
	case err == nil:
		v.guard.CompleteIncrement(ctx, v.key)
		v.update(func(s *VisitState) {
			s.Count = count
			s.Loading = false
		})
		v.hooks.IncrementCompleted(v.key, count)
		v.log.Debug("visit counted", Fields{"key": v.key.String(), "count": count})

	case errors.Is(err, ErrRateLimited):
		v.guard.CompleteIncrement(ctx, v.key)
		v.update(func(s *VisitState) { s.Loading = false })
		v.hooks.IncrementRateLimited(v.key)
		v.log.Debug("visit rate limited; treating as counted", Fields{"key": v.key.String()})

	default:
		v.guard.Reset(ctx, v.key)
		v.mu.Lock()
		v.attempted = false
		v.mu.Unlock()
		v.update(func(s *VisitState) {
			s.Err = &VisitError{Message: errorMessage(err), Cause: err}
			s.Loading = false
		})
		v.hooks.IncrementFailed(v.key, err)
		v.log.Warn("visit increment failed", Fields{"key": v.key.String(), "err": err})
	}
}

func (v *Visit) update(fn func(*VisitState)) {
	v.mu.Lock()
	fn(&v.state)
	snap := v.state
	v.mu.Unlock()
	if v.onChange != nil {
		v.onChange(snap)
	}
}
