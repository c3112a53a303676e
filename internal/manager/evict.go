package manager

// evictUntilFits unloads least recently used idle instances until requiredMB
// fits in the budget minus margin.
func (m *Manager) evictUntilFits(requiredMB int) error {
	for {
		m.mu.Lock()
		if m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return nil
		}
		var lru *Instance
		for _, inst := range m.instances {
			if inst.State != StateReady || !inst.idle() || m.br.Active(inst.Handle) {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			used := m.usedEstMB
			m.mu.Unlock()
			m.log.Warn().Int("required_mb", requiredMB).Int("used_mb", used).Int("budget_mb", m.budgetMB).
				Msg("vram budget exhausted and nothing idle to evict")
			return tooBusyError{modelID: "vram budget"}
		}
		delete(m.instances, lru.ID)
		m.usedEstMB -= lru.EstVRAMMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
		m.mu.Unlock()

		if err := m.loader.Unload(lru.Handle); err != nil {
			m.log.Warn().Err(err).Str("model", lru.ID).Msg("unload during eviction failed")
		}
		m.evictionsTotal.Add(1)
		m.publisher.Publish(Event{Name: "evict", ModelID: lru.ID, Fields: map[string]any{"freed_mb": lru.EstVRAMMB}})
	}
}
