//go:build !llama

// Package llama binds llama.cpp models to the engine interface. Without the
// 'llama' build tag this stub is compiled instead, keeping default builds
// CGO-free; it refuses every load.
package llama

import (
	"fmt"

	"tokenbridge/internal/engine"
)

// Built reports whether this binary was compiled with llama.cpp support.
const Built = false

type Engine struct{}

func New(threads int) *Engine { return &Engine{} }

func (e *Engine) Load(modelPath string, cfg engine.LoadConfig) (engine.Handle, error) {
	return engine.InvalidHandle, fmt.Errorf("llama support not built (missing 'llama' build tag): %w", engine.ErrUnavailable)
}

func (e *Engine) Unload(h engine.Handle) error { return nil }

func (e *Engine) Cancel(h engine.Handle) {}

// GenerateStream never streams; no handle can exist in this build.
func (e *Engine) GenerateStream(h engine.Handle, prompt string, opts engine.Options, cb engine.Callbacks, userData uintptr) engine.ResultCode {
	return engine.ErrNotSupported
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Loader = (*Engine)(nil)
)
