//go:build !llama

package llama

import (
	"errors"
	"testing"

	"tokenbridge/internal/engine"
)

func TestStubRefusesToLoad(t *testing.T) {
	e := New(4)
	if Built {
		t.Fatalf("stub must report Built=false")
	}
	if _, err := e.Load("/models/tiny.gguf", engine.LoadConfig{}); !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if code := e.GenerateStream(1, "p", engine.Options{}, engine.Callbacks{}, 0); code != engine.ErrNotSupported {
		t.Fatalf("expected NOT_SUPPORTED, got %s", code)
	}
}
