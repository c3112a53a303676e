package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/engine/enginetest"
	"tokenbridge/pkg/types"
)

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, sizeMB*1024*1024), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return p
}

// countingLoader counts loads and can fail them.
type countingLoader struct {
	engine.Loader
	loads   atomic.Int32
	unloads atomic.Int32
	err     error
}

func (c *countingLoader) Load(path string, cfg engine.LoadConfig) (engine.Handle, error) {
	c.loads.Add(1)
	if c.err != nil {
		return engine.InvalidHandle, c.err
	}
	time.Sleep(5 * time.Millisecond)
	return c.Loader.Load(path, cfg)
}

func (c *countingLoader) Unload(h engine.Handle) error {
	c.unloads.Add(1)
	return c.Loader.Unload(h)
}

type fixture struct {
	m      *Manager
	eng    *enginetest.Engine
	loader *countingLoader
	pub    *MemoryPublisher
}

func newFixture(t *testing.T, script enginetest.Script, cfg Config) *fixture {
	t.Helper()
	eng := enginetest.New()
	eng.Default = script
	loader := &countingLoader{Loader: eng}
	br := bridge.New(eng, bridge.WithTerminalGrace(50*time.Millisecond), bridge.WithCancelGrace(time.Second))
	pub := NewMemoryPublisher()
	if cfg.Registry == nil {
		cfg.Registry = []types.Model{{ID: "m", Path: "m.gguf"}}
		cfg.DefaultModel = "m"
	}
	cfg.Publisher = pub
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}
	return &fixture{m: New(cfg, loader, br), eng: eng, loader: loader, pub: pub}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

type ndjson struct {
	tokens []types.TokenLine
	done   *types.DoneLine
}

func parseNDJSON(t *testing.T, b []byte) ndjson {
	t.Helper()
	var out ndjson
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Bytes()
		if strings.Contains(string(line), `"done"`) {
			var d types.DoneLine
			if err := json.Unmarshal(line, &d); err != nil {
				t.Fatalf("bad done line %q: %v", line, err)
			}
			out.done = &d
			continue
		}
		var tl types.TokenLine
		if err := json.Unmarshal(line, &tl); err != nil {
			t.Fatalf("bad token line %q: %v", line, err)
		}
		out.tokens = append(out.tokens, tl)
	}
	return out
}

// signalWriter buffers writes and closes first on the first one.
type signalWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	once  sync.Once
	first chan struct{}
}

func newSignalWriter() *signalWriter { return &signalWriter{first: make(chan struct{})} }

func (w *signalWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	w.once.Do(func() { close(w.first) })
	return n, err
}

func (w *signalWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}
