package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/manager"
)

type generateOpts struct {
	model     string
	modelPath string
	maxTokens int
	temp      float32
	topP      float32
	topK      int
	seed      int
	stop      []string
	timeout   time.Duration
}

func newGenerateCmd(a *app) *cobra.Command {
	o := &generateOpts{}
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Stream one completion to stdout",
		Long: "Stream one completion to stdout. The prompt is read from stdin when no\n" +
			"arguments are given or the only argument is \"-\". Ctrl+C cancels the stream.",
		Example: "  tokenbridge generate --max-tokens 32 \"Write a haiku about the sea\"\n" +
			"  echo hello | tokenbridge generate --transport mailbox --timeout 2s",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			overrideString(cmd.Flags(), "models-dir", &a.cfg.ModelsDir)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.generate(ctx, cmd.OutOrStdout(), prompt, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", "", "Model id from the models directory")
	f.StringVar(&o.modelPath, "model-path", "", "Model file to load directly")
	f.String("models-dir", "", "Directory to scan for *.gguf model files")
	f.IntVarP(&o.maxTokens, "max-tokens", "n", 0, "Maximum new tokens (0 = engine default)")
	f.Float32Var(&o.temp, "temperature", 0, "Sampling temperature")
	f.Float32Var(&o.topP, "top-p", 0, "Nucleus sampling probability")
	f.IntVar(&o.topK, "top-k", 0, "Top-K sampling")
	f.IntVar(&o.seed, "seed", 0, "Random seed (0 = engine chooses)")
	f.StringSliceVar(&o.stop, "stop", nil, "Stop sequences")
	f.DurationVar(&o.timeout, "timeout", 0, "Cancel the stream after this long (0 = no limit)")
	return cmd
}

func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	p := strings.TrimSpace(string(b))
	if p == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return p, nil
}

// modelPath resolves --model-path, then --model, then the default model.
func (a *app) modelPath(o *generateOpts) (string, error) {
	if o.modelPath != "" {
		return o.modelPath, nil
	}
	reg, def, err := a.registry()
	if err != nil {
		return "", err
	}
	id := o.model
	if id == "" {
		id = def
	}
	if id == "" && len(reg) == 1 {
		id = reg[0].ID
	}
	for _, m := range reg {
		if m.ID == id {
			return m.Path, nil
		}
	}
	if id == "" {
		return "", fmt.Errorf("no model selected: pass --model or --model-path")
	}
	return "", manager.ErrModelNotFound(id)
}

func (a *app) generate(ctx context.Context, out io.Writer, prompt string, o *generateOpts) error {
	path, err := a.modelPath(o)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer rt.Close()

	h, err := rt.eng.Load(path, rt.loadConfig(a.cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.eng.Unload(h); err != nil {
			a.log.Warn().Err(err).Msg("unload")
		}
	}()

	var sopts []bridge.StreamOption
	if o.timeout > 0 {
		sopts = append(sopts, bridge.WithTimeout(o.timeout))
	}
	opts := engine.Options{
		MaxTokens:   o.maxTokens,
		Temperature: o.temp,
		TopP:        o.topP,
		TopK:        o.topK,
		Seed:        o.seed,
		Stop:        o.stop,
	}
	// The handshake must not be cut short by Ctrl+C; cancellation goes
	// through Next so the engine is asked to stop.
	st, err := rt.br.GenerateStream(context.WithoutCancel(ctx), h, prompt, opts, sopts...)
	if err != nil {
		return err
	}
	defer st.Close()

	for st.Next(ctx) {
		if _, err := io.WriteString(out, st.Token()); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)

	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.CancelGrace.D()+time.Second)
	defer cancel()
	if err := rt.br.Wait(waitCtx, h); err != nil {
		a.log.Warn().Err(err).Msg("engine still running")
	}

	switch res := st.Result().(type) {
	case bridge.Completed:
		a.log.Info().
			Int("prompt_tokens", res.PromptTokens).
			Int("completion_tokens", res.CompletionTokens).
			Str("count_source", res.CountSource).
			Int64("ttft_ms", res.TimeToFirstTokenMs).
			Float64("tokens_per_second", res.TokensPerSecond).
			Msg("completed")
	case bridge.Cancelled:
		a.log.Info().Int("tokens", res.TokensDelivered).Msg("cancelled")
	case bridge.Failed:
		return st.Err()
	}
	return nil
}
