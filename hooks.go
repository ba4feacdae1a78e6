package visitguard

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; see hooks/async for a
// queued decorator and hooks/prom for Prometheus counters.
type Hooks interface {
	// A Visit issued a remote increment for key.
	IncrementStarted(key Key)

	// The endpoint counted the visit; count is the server total.
	IncrementCompleted(key Key, count int64)

	// The endpoint rejected the visit as too recent; key is marked Completed.
	IncrementRateLimited(key Key)

	// The increment failed for another reason; key was reset for retry.
	IncrementFailed(key Key, err error)

	// The durable mirror failed. op is one of read, mark, clear, clear_kind, clear_all.
	MirrorError(op string, key Key, err error)

	// Another guard (tab) announced a state change for key.
	RemoteEvent(key Key, state State)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) IncrementStarted(Key)           {}
func (NopHooks) IncrementCompleted(Key, int64)  {}
func (NopHooks) IncrementRateLimited(Key)       {}
func (NopHooks) IncrementFailed(Key, error)     {}
func (NopHooks) MirrorError(string, Key, error) {}
func (NopHooks) RemoteEvent(Key, State)         {}
