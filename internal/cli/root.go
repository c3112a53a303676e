// Package cli builds the tokenbridge command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tokenbridge/internal/common/fsutil"
	"tokenbridge/internal/config"
)

// app carries the resolved configuration to subcommands.
type app struct {
	configPath string
	envFile    string
	cfg        config.Config
	log        zerolog.Logger
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// NewRootCmd constructs the command tree. Settings resolve as defaults, then
// the config file, then TOKENBRIDGE_* variables (optionally from .env), then flags.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tokenbridge",
		Short:         "Stream tokens from a native inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before reading TOKENBRIDGE_* variables")
	pf.String("log-level", "", "Log level: trace|debug|info|warn|error")
	pf.String("engine", "", "Engine backend: lorem|llama")
	pf.String("transport", "", "Bridge transport: blocking|mailbox|nats")
	pf.String("nats-url", "", "External NATS server (empty starts an embedded one)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if a.envFile != "" && fsutil.PathExists(a.envFile) {
			if err := godotenv.Load(a.envFile); err != nil {
				return fmt.Errorf("load %s: %w", a.envFile, err)
			}
		}
		cfg, err := config.Resolve(a.configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		overrideString(flags, "log-level", &cfg.LogLevel)
		overrideString(flags, "engine", &cfg.Engine)
		overrideString(flags, "transport", &cfg.Transport)
		overrideString(flags, "nats-url", &cfg.NATSURL)
		if err := cfg.Validate(); err != nil {
			return err
		}
		a.cfg = cfg
		a.log = setupLogger(cfg.LogLevel, cmd.ErrOrStderr())
		return nil
	}

	root.AddCommand(newServeCmd(a), newGenerateCmd(a), newModelsCmd(a))
	return root
}
