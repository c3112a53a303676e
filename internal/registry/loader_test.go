package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.GGUF", "a.gguf", "not-model.txt", "model.bin"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a.gguf" || models[1].ID != "b.GGUF" {
		t.Fatalf("unexpected models: %+v", models)
	}
	if !filepath.IsAbs(models[0].Path) || models[0].Name != "a" {
		t.Fatalf("unexpected model: %+v", models[0])
	}
}

func TestLoadDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	if err := os.MkdirAll(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "models", "x.gguf"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := LoadDir("~/models")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestGuessMetadata(t *testing.T) {
	cases := []struct{ name, quant, family string }{
		{"tinyllama-1.1b-chat.Q4_K_M.gguf", "Q4_K_M", "tinyllama"},
		{"mistral-7b-instruct-v0.2.q8_0.gguf", "Q8_0", "mistral"},
		{"phi-2-f16.gguf", "F16", "phi"},
		{"custom.gguf", "", ""},
	}
	for _, tc := range cases {
		if q := quantOf(tc.name); q != tc.quant {
			t.Errorf("quantOf(%q)=%q want %q", tc.name, q, tc.quant)
		}
		if f := familyOf(tc.name); f != tc.family {
			t.Errorf("familyOf(%q)=%q want %q", tc.name, f, tc.family)
		}
	}
}
