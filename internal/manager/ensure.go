package manager

import (
	"context"
	"errors"
	"time"

	"tokenbridge/internal/engine"
)

// EnsureInstance loads modelID into an engine handle unless it is already
// loaded. Concurrent callers for the same model wait for one load.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	modelID, err := m.resolve(modelID)
	if err != nil {
		return err
	}
	startTs := time.Now()

	mdl, ok := m.getModelByID(modelID)
	if !ok {
		m.log.Debug().Str("model", modelID).Msg("ensure: model not in registry")
		m.publisher.Publish(Event{Name: "ensure_model_not_found", ModelID: modelID})
		return ErrModelNotFound(modelID)
	}

	var inst *Instance
	for inst == nil {
		m.mu.Lock()
		cur := m.instances[modelID]
		if cur == nil {
			inst = &Instance{
				ID:       modelID,
				State:    StateLoading,
				LastUsed: time.Now(),
				genCh:    make(chan struct{}, 1),
				queueCh:  make(chan struct{}, m.maxQueueDepth),
				loaded:   make(chan struct{}),
			}
			m.instances[modelID] = inst
			m.mu.Unlock()
			break
		}
		switch cur.State {
		case StateReady:
			cur.LastUsed = time.Now()
			m.mu.Unlock()
			return nil
		case StateDraining:
			m.mu.Unlock()
			return tooBusyError{modelID: modelID}
		}
		loaded := cur.loaded
		m.mu.Unlock()
		select {
		case <-loaded:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.log.Info().Str("model", modelID).Str("path", mdl.Path).Msg("loading model")
	m.publisher.Publish(Event{Name: "ensure_start", ModelID: modelID})

	reqMB := m.estimateVRAMMB(mdl)
	if m.budgetMB > 0 {
		if err := m.evictUntilFits(reqMB); err != nil {
			m.abortLoad(inst, err)
			m.publisher.Publish(Event{Name: "ensure_budget_fail", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
			return err
		}
	}

	h, err := m.loader.Load(mdl.Path, m.loadCfg)
	if err != nil {
		m.abortLoad(inst, err)
		m.log.Error().Err(err).Str("model", modelID).Msg("model load failed")
		m.publisher.Publish(Event{Name: "ensure_error", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		if errors.Is(err, engine.ErrUnavailable) {
			return ErrDependencyUnavailable(err.Error())
		}
		return err
	}

	m.mu.Lock()
	m.usedEstMB += reqMB
	inst.EstVRAMMB = reqMB
	inst.Handle = h
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.state = StateReady
	m.err = ""
	close(inst.loaded)
	m.mu.Unlock()
	m.loadsTotal.Add(1)

	dur := time.Since(startTs)
	m.log.Info().Str("model", modelID).Uint64("handle", uint64(h)).Dur("dur", dur).Msg("model ready")
	m.publisher.Publish(Event{Name: "ensure_ready", ModelID: modelID, Fields: map[string]any{"dur_ms": dur.Milliseconds(), "handle": uint64(h)}})
	return nil
}

// abortLoad drops a loading instance and wakes its waiters.
func (m *Manager) abortLoad(inst *Instance, err error) {
	m.mu.Lock()
	if m.instances[inst.ID] == inst {
		delete(m.instances, inst.ID)
	}
	m.state = StateError
	m.err = err.Error()
	close(inst.loaded)
	m.mu.Unlock()
}
