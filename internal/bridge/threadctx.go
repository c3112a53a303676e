package bridge

import (
	"fmt"
	"sync"

	"tokenbridge/internal/engine"
)

// ThreadID identifies an OS thread.
type ThreadID int64

// HostRuntime is the execution context native callbacks must enter before
// touching Go-side state. Go itself is thread-agnostic (cgo callbacks run on
// any thread), so the default runtime treats every thread as attached.
// Embedders that front a runtime with thread attachment rules (a JVM, a
// scripting VM) provide their own implementation.
type HostRuntime interface {
	// Attached reports whether tid already has a valid context, whoever attached it.
	Attached(tid ThreadID) bool
	Attach(tid ThreadID) error
	Detach(tid ThreadID)
}

type goRuntime struct{}

func (goRuntime) Attached(ThreadID) bool { return true }
func (goRuntime) Attach(ThreadID) error  { return nil }
func (goRuntime) Detach(ThreadID)        {}

// GoRuntime returns the thread-agnostic host runtime.
func GoRuntime() HostRuntime { return goRuntime{} }

// ContextAdapter hands out per-callback scopes, attaching the current thread on
// first entry and detaching it when the outermost scope it attached is released.
type ContextAdapter struct {
	rt HostRuntime

	mu      sync.Mutex
	threads map[ThreadID]*threadEntry
}

type threadEntry struct {
	depth int
	// owned is true when this adapter performed the attach.
	owned bool
}

// NewContextAdapter wraps rt. A nil rt means GoRuntime.
func NewContextAdapter(rt HostRuntime) *ContextAdapter {
	if rt == nil {
		rt = GoRuntime()
	}
	return &ContextAdapter{rt: rt, threads: make(map[ThreadID]*threadEntry)}
}

// Scope is an entered context. Release must be called exactly once; a second
// call is ignored.
type Scope struct {
	a        *ContextAdapter
	tid      ThreadID
	released bool
}

// Enter ensures the calling OS thread is attached and returns its scope.
func (a *ContextAdapter) Enter() (*Scope, error) {
	tid := currentThreadID()
	a.mu.Lock()
	defer a.mu.Unlock()
	ent := a.threads[tid]
	if ent == nil {
		ent = &threadEntry{}
		if !a.rt.Attached(tid) {
			if err := a.rt.Attach(tid); err != nil {
				return nil, &Error{
					Kind:    KindContextAttachFailed,
					Code:    engine.ErrInternal,
					Message: fmt.Sprintf("attach thread %d: %v", tid, err),
				}
			}
			ent.owned = true
		}
		a.threads[tid] = ent
	}
	ent.depth++
	return &Scope{a: a, tid: tid}, nil
}

// Release leaves the scope, detaching the thread if the outermost scope
// performed the attach.
func (s *Scope) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	a := s.a
	a.mu.Lock()
	defer a.mu.Unlock()
	ent := a.threads[s.tid]
	if ent == nil {
		return
	}
	ent.depth--
	if ent.depth > 0 {
		return
	}
	delete(a.threads, s.tid)
	if ent.owned {
		a.rt.Detach(s.tid)
	}
}

// Depth returns the number of open scopes on tid.
func (a *ContextAdapter) Depth(tid ThreadID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ent := a.threads[tid]; ent != nil {
		return ent.depth
	}
	return 0
}

// CurrentThreadID returns the id of the calling OS thread. Callers that need
// a stable answer must hold runtime.LockOSThread.
func CurrentThreadID() ThreadID { return currentThreadID() }
