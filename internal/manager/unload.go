package manager

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Unload drains modelID and releases its engine handle. New requests are
// rejected as too busy while draining. Work still queued after drainTimeout
// has its in-flight generation cancelled.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil || inst.State == StateLoading {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	inst.State = StateDraining
	h := inst.Handle
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "unload_start", ModelID: modelID})

	deadline := time.Now().Add(m.drainTimeout)
	for !inst.idle() {
		if time.Now().After(deadline) {
			m.br.Cancel(h)
			m.log.Warn().Str("model", modelID).Int("inflight", len(inst.genCh)).Int("queue", len(inst.queueCh)).
				Msg("drain timed out, cancelling")
			m.publisher.Publish(Event{Name: "unload_timeout", ModelID: modelID, Fields: map[string]any{"inflight": len(inst.genCh), "queue": len(inst.queueCh)}})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	err := m.br.Wait(ctx, h)
	cancel()
	if err != nil {
		// The engine still holds the handle; keep the instance serviceable.
		m.mu.Lock()
		if m.instances[modelID] == inst && inst.State == StateDraining {
			inst.State = StateReady
		}
		m.mu.Unlock()
		m.log.Error().Err(err).Str("model", modelID).Msg("engine did not stop, unload aborted")
		m.publisher.Publish(Event{Name: "unload_error", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return fmt.Errorf("unload %s: engine still generating: %w", modelID, err)
	}

	m.mu.Lock()
	if m.instances[modelID] == inst {
		m.usedEstMB -= inst.EstVRAMMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
		delete(m.instances, modelID)
	}
	m.mu.Unlock()

	if err := m.loader.Unload(h); err != nil {
		return err
	}
	m.log.Info().Str("model", modelID).Msg("model unloaded")
	m.publisher.Publish(Event{Name: "unload_done", ModelID: modelID})
	return nil
}

// Close unloads every instance.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.State != StateLoading {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	var errs []error
	for _, id := range ids {
		if err := m.Unload(id); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
