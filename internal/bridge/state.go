package bridge

import "sync/atomic"

// State is the lifecycle state of a stream session.
type State string

const (
	StateCreated   State = "created"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CancellationToken is a flag that can be set once and never cleared.
type CancellationToken struct {
	set atomic.Bool
}

// Cancel sets the flag. It reports whether this call was the one that set it.
func (t *CancellationToken) Cancel() bool { return t.set.CompareAndSwap(false, true) }

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool { return t.set.Load() }
