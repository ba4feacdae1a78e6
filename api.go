package visitguard

import (
	"context"
	"time"

	"github.com/eternovinculo/visitguard/broadcast"
	"github.com/eternovinculo/visitguard/mirror"
)

// Guard is the increment-once arbiter. One Guard stands for one client
// ("browser tab"): construct it once at startup, share it with every Visit,
// Close it at shutdown. All methods are safe for concurrent use.
//
// Mirror failures never surface from these methods; they are logged and
// reported through Hooks.MirrorError, and a failed read counts as "not
// completed".
type Guard interface {
	// CanIncrement reports false when key is in flight or completed. A
	// completion found only in the mirror is cached in memory.
	CanIncrement(ctx context.Context, key Key) bool
	// StartIncrement marks key in flight without re-checking. Call it right
	// after CanIncrement returned true, or use TryStart.
	StartIncrement(ctx context.Context, key Key)
	// TryStart is CanIncrement and StartIncrement as one atomic step.
	TryStart(ctx context.Context, key Key) bool
	// CompleteIncrement marks key completed and writes the durable marker.
	// Idempotent.
	CompleteIncrement(ctx context.Context, key Key)
	// Reset returns key to Idle in memory and in the mirror.
	Reset(ctx context.Context, key Key)
	// ResetKind resets every key of kind.
	ResetKind(ctx context.Context, kind Kind)
	// ResetAll resets every key. Administrative use only.
	ResetAll(ctx context.Context)

	// State returns the in-memory state of key (no mirror access).
	State(key Key) State
	Close(ctx context.Context) error
}

// CrossTabMode selects how guards sharing a Channel cooperate.
type CrossTabMode uint8

const (
	// CrossTabOff: tabs only see each other's completions through the
	// mirror, on their next query. Two tabs may both count the same key if
	// they start before either completes.
	CrossTabOff CrossTabMode = iota
	// CrossTabNotify: completions and resets are announced; a remote
	// completion is cached at once.
	CrossTabNotify
	// CrossTabLock: like Notify, and a remote in-flight announcement blocks
	// local attempts for RemoteLease or until the remote tab finishes.
	CrossTabLock
)

func (m CrossTabMode) String() string {
	switch m {
	case CrossTabOff:
		return "off"
	case CrossTabNotify:
		return "notify"
	case CrossTabLock:
		return "lock"
	default:
		return "unknown"
	}
}

// GuardOptions tune a Guard. The zero value is usable: in-process mirror,
// no cross-tab coordination, no logging.
type GuardOptions struct {
	Mirror      mirror.Mirror // nil => mirror.NewLocal(0, 0), closed by the guard
	CloseMirror bool          // Close also closes a caller-supplied Mirror

	Channel     broadcast.Channel // required unless CrossTab is CrossTabOff
	CrossTab    CrossTabMode
	RemoteLease time.Duration // CrossTabLock only; 0 => 30s
	Origin      string        // identifies this guard on Channel; "" => random uuid

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

func NewGuard(opts GuardOptions) (Guard, error) {
	g, err := newGuard(opts)
	if err != nil {
		return nil, err
	}
	return g, nil
}
