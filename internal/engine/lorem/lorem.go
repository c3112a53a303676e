// Package lorem is an engine.Engine that streams lorem ipsum words. It needs
// no model files and behaves like a native engine at the callback boundary:
// one blocking call per generation, a reused token buffer, result codes.
package lorem

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	loremgen "github.com/bozaro/golorem"

	"tokenbridge/internal/engine"
)

const (
	defaultContextSize = 2048
	defaultMaxTokens   = 64
)

type model struct {
	path    string
	ctxSize int
	cancel  atomic.Bool
}

// Engine generates placeholder text. TokenDelay paces the stream so that
// cancellation and timeouts can be exercised by hand.
type Engine struct {
	TokenDelay time.Duration

	mu     sync.Mutex
	gen    *loremgen.Lorem
	next   engine.Handle
	models map[engine.Handle]*model
}

// New returns an engine emitting one word every delay.
func New(delay time.Duration) *Engine {
	return &Engine{
		TokenDelay: delay,
		gen:        loremgen.New(),
		models:     make(map[engine.Handle]*model),
	}
}

// Load registers a model. The path is only remembered.
func (e *Engine) Load(modelPath string, cfg engine.LoadConfig) (engine.Handle, error) {
	if strings.TrimSpace(modelPath) == "" {
		return engine.InvalidHandle, fmt.Errorf("model path is empty")
	}
	ctx := cfg.ContextSize
	if ctx <= 0 {
		ctx = defaultContextSize
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.models[e.next] = &model{path: modelPath, ctxSize: ctx}
	return e.next, nil
}

func (e *Engine) Unload(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.models[h]; !ok {
		return fmt.Errorf("unknown handle %d", h)
	}
	delete(e.models, h)
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

func (e *Engine) words(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, n)
	for len(out) < n {
		out = append(out, strings.Fields(e.gen.Sentence(5, 15))...)
	}
	return out[:n]
}

func (e *Engine) GenerateStream(h engine.Handle, prompt string, opts engine.Options, cb engine.Callbacks, userData uintptr) engine.ResultCode {
	e.mu.Lock()
	m := e.models[h]
	e.mu.Unlock()
	if m == nil {
		return engine.ErrInvalidHandle
	}
	if prompt == "" || opts.MaxTokens < 0 {
		return engine.ErrInvalidArgument
	}
	m.cancel.Store(false)

	start := time.Now()
	promptTokens := engine.EstimateTokens(prompt)
	if promptTokens >= m.ctxSize {
		msg := fmt.Sprintf("prompt of ~%d tokens exceeds context size %d", promptTokens, m.ctxSize)
		cb.OnError(engine.ErrContextTooLong, msg, userData)
		return engine.ErrContextTooLong
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	if room := m.ctxSize - promptTokens; maxTokens > room {
		maxTokens = room
	}

	var (
		buf     = make([]byte, 0, 32)
		emitted int
		ttft    time.Duration
	)
	for i, w := range e.words(maxTokens) {
		if e.TokenDelay > 0 {
			time.Sleep(e.TokenDelay)
		}
		if m.cancel.Load() {
			cb.OnError(engine.ErrCancelled, "generation cancelled", userData)
			return engine.Success
		}
		if i > 0 {
			w = " " + w
		}
		if stopped(w, opts.Stop) {
			break
		}
		buf = append(buf[:0], w...)
		if emitted == 0 {
			ttft = time.Since(start)
		}
		emitted++
		if !cb.OnToken(buf, userData) {
			break
		}
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

func stopped(word string, stop []string) bool {
	for _, s := range stop {
		if s != "" && strings.Contains(word, s) {
			return true
		}
	}
	return false
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Loader = (*Engine)(nil)
)
