package e2e

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbridge/internal/manager"
	"tokenbridge/pkg/types"
)

func TestE2E_ModelsAndStatus(t *testing.T) {
	dir := createTempModelsDir(t, "beta.gguf", "alpha.gguf")
	srv, _ := newStack(t, dir, 0, manager.Config{DefaultModel: "alpha.gguf"})

	resp, body := httpGet(t, srv.URL+"/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var models types.ModelsResponse
	require.NoError(t, json.Unmarshal(body, &models))
	require.Len(t, models.Models, 2)
	assert.Equal(t, "alpha.gguf", models.Models[0].ID)

	resp, body = httpGet(t, srv.URL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status types.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Empty(t, status.Instances)

	resp, _ = httpGet(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_InferStreamsOverNATS(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newStack(t, dir, time.Millisecond, manager.Config{DefaultModel: "alpha.gguf"})

	resp := postJSON(t, srv.URL+"/infer", `{"prompt":"write a short poem","max_tokens":8}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/x-ndjson")

	tokens, done := readStream(t, bufio.NewScanner(resp.Body))
	require.Len(t, tokens, 8)
	var sb strings.Builder
	for i, tl := range tokens {
		assert.Equal(t, i, tl.Index)
		sb.WriteString(tl.Token)
	}
	assert.True(t, done.Done)
	assert.Equal(t, "stop", done.FinishReason)
	assert.Equal(t, sb.String(), done.Content)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 8, done.Usage.CompletionTokens)
	assert.Equal(t, "engine", done.Usage.CountSource)

	_, body := httpGet(t, srv.URL+"/status")
	var status types.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	require.Len(t, status.Instances, 1)
	assert.Equal(t, "ready", status.Instances[0].State)
	assert.Equal(t, uint64(1), status.LoadsTotal)

	_, body = httpGet(t, srv.URL+"/metrics")
	assert.Contains(t, string(body), "tokenbridge_stream_started_total")
	assert.Contains(t, string(body), "tokenbridge_http_requests_total")
}

// TestE2E_Backpressure429 fills the single queue slot with a slow stream,
// expects the next request to be refused, then cancels the first one.
func TestE2E_Backpressure429(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newStack(t, dir, 20*time.Millisecond, manager.Config{
		DefaultModel:  "alpha.gguf",
		MaxQueueDepth: 1,
		MaxWait:       20 * time.Millisecond,
	})

	first := postJSON(t, srv.URL+"/infer", `{"prompt":"go on forever","max_tokens":1000}`)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	sc := bufio.NewScanner(first.Body)
	require.True(t, sc.Scan(), "first token line")

	second := postJSON(t, srv.URL+"/infer", `{"prompt":"me too"}`)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	cancel := postJSON(t, srv.URL+"/cancel", `{}`)
	var cr types.CancelResponse
	require.NoError(t, json.NewDecoder(cancel.Body).Decode(&cr))
	cancel.Body.Close()
	assert.True(t, cr.Cancelled)
	assert.Equal(t, "alpha.gguf", cr.Model)

	tokens, done := readStream(t, sc)
	assert.Less(t, len(tokens), 999)
	assert.Equal(t, "cancelled", done.FinishReason)

	// The slot frees once the first stream has settled.
	require.Eventually(t, func() bool {
		resp := postJSON(t, srv.URL+"/infer", `{"prompt":"again","max_tokens":2}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		_, done := readStream(t, bufio.NewScanner(resp.Body))
		return done.FinishReason == "stop"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestE2E_UnknownModel404(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newStack(t, dir, 0, manager.Config{})

	resp := postJSON(t, srv.URL+"/infer", `{"model":"nope.gguf","prompt":"hi"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var er types.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	assert.Equal(t, http.StatusNotFound, er.Code)
}
