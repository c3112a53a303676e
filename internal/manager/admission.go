package manager

import (
	"context"
	"time"
)

func noop() {}

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Each stage waits at most maxWait. The returned func releases both.
func (m *Manager) beginGeneration(ctx context.Context, modelID string) (func(), error) {
	m.mu.RLock()
	inst := m.instances[modelID]
	var state State
	if inst != nil {
		state = inst.State
	}
	m.mu.RUnlock()
	if inst == nil {
		return noop, modelNotFoundError{id: modelID}
	}
	if state == StateDraining {
		return noop, tooBusyError{modelID: modelID}
	}
	if err := ctx.Err(); err != nil {
		return noop, err
	}

	if err := m.acquire(ctx, inst.queueCh, modelID); err != nil {
		return noop, err
	}
	if err := m.acquire(ctx, inst.genCh, modelID); err != nil {
		<-inst.queueCh
		return noop, err
	}
	m.mu.Lock()
	inst.LastUsed = time.Now()
	m.mu.Unlock()
	return func() { <-inst.genCh; <-inst.queueCh }, nil
}

func (m *Manager) acquire(ctx context.Context, slots chan struct{}, modelID string) error {
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return tooBusyError{modelID: modelID}
	}
}
