package httpapi

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.Disabled,
		"off":   zerolog.Disabled,
		"1":     zerolog.DebugLevel,
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRequestLogLevelOverrides(t *testing.T) {
	SetDefaultLogLevel("error")
	defer SetDefaultLogLevel("")

	r := httptest.NewRequest("POST", "/infer?log=debug", nil)
	r.Header.Set("X-Log-Level", "info")
	if got := requestLogLevel(r); got != zerolog.DebugLevel {
		t.Fatalf("query should win, got %v", got)
	}
	r = httptest.NewRequest("POST", "/infer", nil)
	r.Header.Set("X-Log-Level", "info")
	if got := requestLogLevel(r); got != zerolog.InfoLevel {
		t.Fatalf("header: got %v", got)
	}
	r = httptest.NewRequest("POST", "/infer", nil)
	if got := requestLogLevel(r); got != zerolog.ErrorLevel {
		t.Fatalf("default: got %v", got)
	}
}

func TestLineLoggerSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	lw := &lineLogger{log: zerolog.New(&buf)}
	_, _ = lw.Write([]byte(`{"token":"a"}` + "\n" + `{"tok`))
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Fatalf("expected one logged line, got %d: %s", n, buf.String())
	}
	_, _ = lw.Write([]byte(`en":"b"}` + "\n\n"))
	out := buf.String()
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, `{\"token\":\"b\"}`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestInferLogsWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	req := httptest.NewRequest("POST", "/infer?log=debug", strings.NewReader(`{"prompt":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)

	out := buf.String()
	for _, want := range []string{`"message":"infer start"`, `"message":"infer end"`, `"request_id"`, `"message":"infer>"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in logs:\n%s", want, out)
		}
	}
}
