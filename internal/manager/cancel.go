package manager

// Cancel stops the generation currently streaming on modelID. It reports
// false when the model is loaded but idle. Queued requests are not affected.
func (m *Manager) Cancel(modelID string) (bool, error) {
	modelID, err := m.resolve(modelID)
	if err != nil {
		return false, err
	}
	inst := m.instance(modelID)
	if inst == nil {
		return false, ErrModelNotFound(modelID)
	}
	m.mu.RLock()
	h := inst.Handle
	m.mu.RUnlock()
	ok := m.br.Cancel(h)
	m.log.Debug().Str("model", modelID).Bool("in_flight", ok).Msg("cancel requested")
	m.publisher.Publish(Event{Name: "infer_cancel", ModelID: modelID, Fields: map[string]any{"in_flight": ok}})
	return ok, nil
}
