// Package registry discovers GGUF model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"tokenbridge/internal/common/fsutil"
	"tokenbridge/pkg/types"
)

var (
	quantRe  = regexp.MustCompile(`(?i)(?:^|[-_.])((?:i?q\d(?:_[a-z0-9]+)*)|f16|f32|bf16)(?:[-_.]|$)`)
	families = []string{"llama", "mistral", "mixtral", "phi", "qwen", "gemma", "tinyllama"}
)

// LoadDir scans dir for *.gguf files. The ID is the file name, Path the
// absolute path; quantization and family are guessed from the name.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		return nil, fmt.Errorf("models dir %s does not exist", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:     name,
			Name:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path:   filepath.Join(abs, name),
			Quant:  quantOf(name),
			Family: familyOf(name),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func quantOf(name string) string {
	m := quantRe.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// familyOf picks the longest known family contained in name.
func familyOf(name string) string {
	lower := strings.ToLower(name)
	best := ""
	for _, f := range families {
		if strings.Contains(lower, f) && len(f) > len(best) {
			best = f
		}
	}
	return best
}
