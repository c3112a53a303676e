package fsutil

import (
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cases := map[string]string{
		"":             "",
		"/tmp":         "/tmp",
		"~user/models": "~user/models",
		"~":            home,
		"~/models/llm": filepath.Join(home, "models", "llm"),
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil || got != want {
			t.Errorf("ExpandHome(%q)=%q err=%v want %q", in, got, err, want)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	if !PathExists(dir) {
		t.Fatalf("%s should exist", dir)
	}
	if PathExists(filepath.Join(dir, "nope")) {
		t.Fatal("missing path reported as existing")
	}
}
