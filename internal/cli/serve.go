package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokenbridge/internal/httpapi"
	"tokenbridge/internal/manager"
	"tokenbridge/internal/registry"
	"tokenbridge/pkg/types"
)

// loremModel lets the lorem engine serve without any model files.
var loremModel = types.Model{ID: "lorem", Name: "lorem ipsum", Path: "lorem", Family: "lorem"}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /infer over HTTP",
		Example: "  tokenbridge serve --addr :8080 --models-dir ~/models/llm\n" +
			"  tokenbridge serve --engine lorem --transport nats",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			overrideString(flags, "addr", &a.cfg.Addr)
			overrideString(flags, "models-dir", &a.cfg.ModelsDir)
			overrideString(flags, "default-model", &a.cfg.DefaultModel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().String("models-dir", "", "Directory to scan for *.gguf model files")
	cmd.Flags().String("default-model", "", "Default model id when a request omits model")
	return cmd
}

func (a *app) registry() ([]types.Model, string, error) {
	reg, err := registry.LoadDir(a.cfg.ModelsDir)
	def := a.cfg.DefaultModel
	if a.cfg.Engine == "lorem" {
		if err != nil || len(reg) == 0 {
			a.log.Info().Str("models_dir", a.cfg.ModelsDir).Msg("no model files, serving the built-in lorem model")
			reg, err = []types.Model{loremModel}, nil
		}
		if def == "" {
			def = reg[0].ID
		}
	}
	return reg, def, err
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	reg, def, err := a.registry()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, a.log)
	if err != nil {
		return err
	}
	defer rt.Close()

	mgr := manager.New(manager.Config{
		Registry:      reg,
		BudgetMB:      cfg.VRAMBudgetMB,
		MarginMB:      cfg.VRAMMarginMB,
		DefaultModel:  def,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.D(),
		DrainTimeout:  cfg.DrainTimeout.D(),
		InferTimeout:  cfg.InferTimeout.D(),
		Load:          rt.loadConfig(cfg),
		Publisher:     logEvents{log: a.log},
		Logger:        &a.log,
	}, rt.eng, rt.br)
	defer func() {
		if err := mgr.Close(); err != nil {
			a.log.Warn().Err(err).Msg("unload on shutdown")
		}
	}()

	httpapi.SetLogger(a.log)
	httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)
	httpapi.SetBaseContext(ctx)

	if def != "" {
		go func() {
			if err := mgr.EnsureInstance(ctx, def); err != nil {
				a.log.Warn().Err(err).Str("model", def).Msg("preload failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", cfg.Addr).Int("models", len(reg)).Str("engine", cfg.Engine).
			Str("transport", cfg.Transport).Msg("tokenbridge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}
