package bridge

import "sync"

// trackingRuntime is a HostRuntime that requires explicit attachment and can
// be shut down, after which every Attach fails.
type trackingRuntime struct {
	mu       sync.Mutex
	attached map[ThreadID]bool
	shutdown bool
	attaches int
	detaches int
}

// newtrackingRuntime returns a runtime with no attached threads.
func newtrackingRuntime() *trackingRuntime {
	return &trackingRuntime{attached: make(map[ThreadID]bool)}
}

func (r *trackingRuntime) Attached(tid ThreadID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached[tid]
}

func (r *trackingRuntime) Attach(tid ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrRuntimeUnavailable
	}
	r.attached[tid] = true
	r.attaches++
	return nil
}

func (r *trackingRuntime) Detach(tid ThreadID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, tid)
	r.detaches++
}

// MarkAttached records tid as attached by someone else (e.g. the host's own
// threads). Scopes entered on it never detach.
func (r *trackingRuntime) MarkAttached(tid ThreadID) {
	r.mu.Lock()
	r.attached[tid] = true
	r.mu.Unlock()
}

// Shutdown makes further Attach calls fail.
func (r *trackingRuntime) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

// Counts returns how many attaches and detaches were performed.
func (r *trackingRuntime) Counts() (attaches, detaches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches, r.detaches
}
