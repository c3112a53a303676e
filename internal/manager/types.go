package manager

import (
	"time"

	"tokenbridge/internal/engine"
)

// State is the lifecycle state of the manager and of each instance.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateDraining State = "draining"
	StateError    State = "error"
)

// Instance is one loaded model.
type Instance struct {
	ID        string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	Handle    engine.Handle

	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // queue slots
	loaded  chan struct{} // closed once the load attempt finished
}

func (i *Instance) idle() bool { return len(i.genCh) == 0 && len(i.queueCh) == 0 }
