package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\nvram_budget_mb: 123\ndefault_model: m1\ntransport: mailbox\ncancel_grace: 750ms\ncors_origins: [\"http://a\", \"http://b\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.VRAMBudgetMB != 123 || cfg.DefaultModel != "m1" || cfg.Transport != "mailbox" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CancelGrace.D() != 750*time.Millisecond || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json", `{"addr":":7070","engine":"llama","threads":4,"max_wait":"3s","nats_url":"nats://x:4222"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Engine != "llama" || cfg.Threads != 4 || cfg.MaxWait.D() != 3*time.Second || cfg.NATSURL != "nats://x:4222" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", "addr=\":8081\"\nterminal_grace=\"100ms\"\ncontext_size=512\ncors_enabled=true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.TerminalGrace.D() != 100*time.Millisecond || cfg.ContextSize != 512 || !cfg.CORSEnabled {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error on missing file")
	}
	cases := map[string]string{
		"bad.yaml": "addr: [",
		"bad.json": "{",
		"bad.toml": "addr = ",
		"cfg.ini":  "addr=:1",
		"dur.yaml": "max_wait: soon\n",
	}
	for name, content := range cases {
		if _, err := Load(writeTempFile(t, d, name, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResolveLayersFileThenEnv(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "addr: :1111\nengine: lorem\nmax_queue_depth: 4\n")
	t.Setenv("TOKENBRIDGE_ADDR", ":2222")
	t.Setenv("TOKENBRIDGE_CANCEL_GRACE", "1s")
	t.Setenv("TOKENBRIDGE_CORS_ORIGINS", "http://a,http://b")

	cfg, err := Resolve(p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":2222" {
		t.Fatalf("env should win over file, addr=%s", cfg.Addr)
	}
	if cfg.MaxQueueDepth != 4 {
		t.Fatalf("file should win over default, depth=%d", cfg.MaxQueueDepth)
	}
	if cfg.CancelGrace.D() != time.Second || cfg.TerminalGrace.D() != 2*time.Second {
		t.Fatalf("graces: %v %v", cfg.CancelGrace.D(), cfg.TerminalGrace.D())
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b" {
		t.Fatalf("origins: %v", cfg.CORSOrigins)
	}
}

func TestResolveValidates(t *testing.T) {
	t.Setenv("TOKENBRIDGE_TRANSPORT", "carrier-pigeon")
	if _, err := Resolve(""); err == nil {
		t.Fatal("expected unknown transport error")
	}
	t.Setenv("TOKENBRIDGE_TRANSPORT", "nats")
	t.Setenv("TOKENBRIDGE_ENGINE", "gpt")
	if _, err := Resolve(""); err == nil {
		t.Fatal("expected unknown engine error")
	}
}

func TestDurationText(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, _ := d.MarshalText()
	if string(b) != "1.5s" {
		t.Fatalf("marshal=%s", b)
	}
	var back Duration
	if err := back.UnmarshalText([]byte(" 1.5s ")); err != nil || back != d {
		t.Fatalf("unmarshal=%v err=%v", back, err)
	}
}
