package bridge

import (
	"sync"

	"tokenbridge/internal/engine"
)

// Lifecycle event names.
const (
	EventGenerationStarted   = "generation_started"
	EventFirstToken          = "first_token"
	EventStreamingUpdate     = "streaming_update"
	EventGenerationCompleted = "generation_completed"
	EventGenerationFailed    = "generation_failed"
	EventGenerationCancelled = "generation_cancelled"
	EventGenerationRejected  = "generation_rejected"
	EventContractViolation   = "contract_violation"
	EventAttachFailed        = "attach_failed"
)

// streamingUpdateEvery is how many tokens pass between streaming_update events.
const streamingUpdateEvery = 10

// LifecycleEvent describes a point in a stream's life.
// Minimal and stable: name + session and optional fields via key/values.
type LifecycleEvent struct {
	Name      string
	SessionID string
	Handle    engine.Handle
	Fields    map[string]any
}

// EventPublisher receives lifecycle events. Publish may be called from the
// native thread: implementations must be non-blocking and must not panic.
type EventPublisher interface {
	Publish(LifecycleEvent)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(LifecycleEvent) {}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e LifecycleEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher stores events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e LifecycleEvent) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LifecycleEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the names of the recorded events, in order.
func (p *MemoryPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}
