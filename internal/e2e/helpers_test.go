package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/engine/lorem"
	"tokenbridge/internal/httpapi"
	"tokenbridge/internal/manager"
	"tokenbridge/internal/metrics"
	"tokenbridge/internal/natsbus"
	"tokenbridge/internal/registry"
	"tokenbridge/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf
// files and returns its path.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	return dir
}

// newStack wires the full serving path the way the serve command does: a
// registry scan, the lorem engine, a bridge over an embedded NATS bus and the
// HTTP mux in front of the manager.
func newStack(t *testing.T, modelsDir string, delay time.Duration, cfg manager.Config) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.LoadDir(modelsDir)
	require.NoError(t, err)

	log := zerolog.Nop()
	bus, err := natsbus.Open("", log)
	require.NoError(t, err)

	eng := lorem.New(delay)
	br := bridge.New(eng,
		bridge.WithLogger(log),
		bridge.WithTransport(bus.Transport()),
		bridge.WithPublisher(bridge.MultiPublisher{metrics.Publisher{}, bus.Publisher()}),
		bridge.WithTerminalGrace(100*time.Millisecond),
		bridge.WithCancelGrace(time.Second),
	)
	cfg.Registry = reg
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}
	cfg.Load = engine.LoadConfig{ContextSize: 4096}
	mgr := manager.New(cfg, eng, br)

	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
		bus.Close()
	})
	return srv, mgr
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// readStream collects token lines until the done line.
func readStream(t *testing.T, sc *bufio.Scanner) ([]types.TokenLine, types.DoneLine) {
	t.Helper()
	var (
		tokens []types.TokenLine
		done   types.DoneLine
	)
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.Contains(line, []byte(`"done":`)) {
			require.NoError(t, json.Unmarshal(line, &done))
			break
		}
		var tl types.TokenLine
		require.NoError(t, json.Unmarshal(line, &tl))
		tokens = append(tokens, tl)
	}
	require.NoError(t, sc.Err())
	return tokens, done
}
