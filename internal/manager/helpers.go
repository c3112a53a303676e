package manager

import (
	"os"

	"tokenbridge/pkg/types"
)

func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// estimateVRAMMB uses the model file size. Unknown sizes count as 1MB so
// they never bypass the budget.
func (m *Manager) estimateVRAMMB(mdl types.Model) int {
	fi, err := os.Stat(mdl.Path)
	if err != nil {
		return 1
	}
	mb := int(fi.Size() / (1024 * 1024))
	if mb <= 0 {
		mb = 1
	}
	return mb
}

// resolve applies the default model to an empty id.
func (m *Manager) resolve(modelID string) (string, error) {
	if modelID != "" {
		return modelID, nil
	}
	if m.defaultModel == "" {
		return "", modelNotFoundError{id: "(unspecified)"}
	}
	return m.defaultModel, nil
}
