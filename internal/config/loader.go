// Package config loads tokenbridge settings from a file and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "TOKENBRIDGE_"

// Duration is a time.Duration written as "250ms" or "2s" in every format.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the service and the CLI.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MODELS_DIR"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model" env:"DEFAULT_MODEL"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb" env:"VRAM_BUDGET_MB"`
	VRAMMarginMB int    `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb" env:"VRAM_MARGIN_MB"`

	// Engine is "lorem" or "llama".
	Engine      string   `json:"engine" yaml:"engine" toml:"engine" env:"ENGINE"`
	ContextSize int      `json:"context_size" yaml:"context_size" toml:"context_size" env:"CONTEXT_SIZE"`
	Threads     int      `json:"threads" yaml:"threads" toml:"threads" env:"THREADS"`
	TokenDelay  Duration `json:"token_delay" yaml:"token_delay" toml:"token_delay" env:"TOKEN_DELAY"`

	// Transport is "blocking", "mailbox" or "nats".
	Transport string `json:"transport" yaml:"transport" toml:"transport" env:"TRANSPORT"`
	// NATSURL selects an external NATS server; empty starts an embedded one.
	NATSURL string `json:"nats_url" yaml:"nats_url" toml:"nats_url" env:"NATS_URL"`

	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" env:"MAX_QUEUE_DEPTH"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait" env:"MAX_WAIT"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	InferTimeout  Duration `json:"infer_timeout" yaml:"infer_timeout" toml:"infer_timeout" env:"INFER_TIMEOUT"`
	TerminalGrace Duration `json:"terminal_grace" yaml:"terminal_grace" toml:"terminal_grace" env:"TERMINAL_GRACE"`
	CancelGrace   Duration `json:"cancel_grace" yaml:"cancel_grace" toml:"cancel_grace" env:"CANCEL_GRACE"`

	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	HTTPLogLevel string   `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level" env:"HTTP_LOG_LEVEL"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS"`
	CORSMethods  []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods" env:"CORS_METHODS"`
	CORSHeaders  []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers" env:"CORS_HEADERS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:          ":8080",
		ModelsDir:     "~/models/llm",
		Engine:        "lorem",
		ContextSize:   2048,
		Transport:     "blocking",
		MaxQueueDepth: 32,
		MaxWait:       Duration(30 * time.Second),
		DrainTimeout:  Duration(30 * time.Second),
		TerminalGrace: Duration(2 * time.Second),
		CancelGrace:   Duration(5 * time.Second),
		LogLevel:      "info",
		MaxBodyBytes:  1 << 20,
		CORSMethods:   []string{"GET", "POST", "OPTIONS"},
		CORSHeaders:   []string{"Content-Type", "X-Log-Level"},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	err := decodeFile(path, &cfg)
	return cfg, err
}

// Resolve layers defaults, the optional file at path and TOKENBRIDGE_*
// environment variables, later layers winning.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg with every TOKENBRIDGE_* variable that is set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Validate rejects unknown engine and transport names.
func (c Config) Validate() error {
	switch c.Engine {
	case "lorem", "llama":
	default:
		return fmt.Errorf("unknown engine %q (want lorem or llama)", c.Engine)
	}
	switch c.Transport {
	case "blocking", "mailbox", "nats":
	default:
		return fmt.Errorf("unknown transport %q (want blocking, mailbox or nats)", c.Transport)
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	case ".json":
		err = json.Unmarshal(b, cfg)
	case ".toml":
		err = toml.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
