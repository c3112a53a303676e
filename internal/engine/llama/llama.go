//go:build llama

package llama

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"tokenbridge/internal/engine"
)

// Built reports whether this binary was compiled with llama.cpp support.
const Built = true

type model struct {
	path    string
	m       *llama.LLama
	ctxSize int
	cancel  atomic.Bool
}

// Engine runs GGUF models through go-llama.cpp.
type Engine struct {
	threads int

	mu     sync.Mutex
	next   engine.Handle
	models map[engine.Handle]*model
}

// New returns an engine predicting with the given number of threads.
func New(threads int) *Engine {
	return &Engine{threads: threads, models: make(map[engine.Handle]*model)}
}

func (e *Engine) Load(modelPath string, cfg engine.LoadConfig) (engine.Handle, error) {
	if strings.TrimSpace(modelPath) == "" {
		return engine.InvalidHandle, errors.New("model path is empty")
	}
	m, err := llama.New(modelPath, llama.SetContext(zn(cfg.ContextSize, 2048)))
	if err != nil {
		return engine.InvalidHandle, fmt.Errorf("load %s: %w", modelPath, err)
	}
	threads := e.threads
	if cfg.Threads > 0 {
		threads = cfg.Threads
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads = threads
	e.next++
	e.models[e.next] = &model{path: modelPath, m: m, ctxSize: cfg.ContextSize}
	return e.next, nil
}

func (e *Engine) Unload(h engine.Handle) error {
	e.mu.Lock()
	m := e.models[h]
	delete(e.models, h)
	e.mu.Unlock()
	if m == nil {
		return fmt.Errorf("unknown handle %d", h)
	}
	m.m.Free()
	return nil
}

func (e *Engine) Cancel(h engine.Handle) {
	e.mu.Lock()
	m := e.models[h]
	e.mu.Unlock()
	if m != nil {
		m.cancel.Store(true)
	}
}

func (e *Engine) GenerateStream(h engine.Handle, prompt string, opts engine.Options, cb engine.Callbacks, userData uintptr) engine.ResultCode {
	e.mu.Lock()
	m := e.models[h]
	threads := e.threads
	e.mu.Unlock()
	if m == nil {
		return engine.ErrInvalidHandle
	}
	if prompt == "" || opts.MaxTokens < 0 {
		return engine.ErrInvalidArgument
	}
	m.cancel.Store(false)

	promptTokens := engine.EstimateTokens(prompt)
	if m.ctxSize > 0 && promptTokens >= m.ctxSize {
		cb.OnError(engine.ErrContextTooLong,
			fmt.Sprintf("prompt of ~%d tokens exceeds context size %d", promptTokens, m.ctxSize), userData)
		return engine.ErrContextTooLong
	}

	start := time.Now()
	var (
		buf       = make([]byte, 0, 64)
		emitted   int
		ttft      time.Duration
		cancelled bool
	)
	m.m.SetTokenCallback(func(tok string) bool {
		if m.cancel.Load() {
			cancelled = true
			return false
		}
		if emitted == 0 {
			ttft = time.Since(start)
		}
		emitted++
		buf = append(buf[:0], tok...)
		return cb.OnToken(buf, userData)
	})
	defer m.m.SetTokenCallback(nil)

	_, err := m.m.Predict(prompt, predictOptions(opts, threads)...)
	if cancelled {
		cb.OnError(engine.ErrCancelled, "generation cancelled", userData)
		return engine.Success
	}
	if err != nil {
		cb.OnError(engine.ErrGenerationFailed, err.Error(), userData)
		return engine.Success
	}

	elapsed := time.Since(start)
	res := engine.Result{
		PromptTokens:       promptTokens,
		CompletionTokens:   emitted,
		TotalTokens:        promptTokens + emitted,
		TotalTimeMs:        elapsed.Milliseconds(),
		TimeToFirstTokenMs: ttft.Milliseconds(),
	}
	if s := elapsed.Seconds(); s > 0 {
		res.TokensPerSecond = float64(emitted) / s
	}
	cb.OnComplete(&res, userData)
	return engine.Success
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts engine options into go-llama.cpp options.
func predictOptions(o engine.Options, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(zn(o.MaxTokens, 128)),
		llama.SetThreads(zn(threads, 1)),
		llama.SetTopP(zf(o.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(o.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(o.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(o.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if o.Seed != 0 {
		po = append(po, llama.SetSeed(o.Seed))
	}
	if len(o.Stop) > 0 {
		po = append(po, llama.SetStopWords(o.Stop...))
	}
	return po
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Loader = (*Engine)(nil)
)
