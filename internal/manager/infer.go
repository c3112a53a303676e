package manager

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/pkg/types"
)

// Infer runs one generation and writes it to w as NDJSON: a TokenLine per
// token followed by a DoneLine. Errors raised before the first line are
// returned with nothing written. A stream that fails after tokens went out
// still ends with a DoneLine carrying the error, and the error is returned.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flusher func()) error {
	modelID, err := m.resolve(req.Model)
	if err != nil {
		return err
	}
	if err := m.EnsureInstance(ctx, modelID); err != nil {
		return err
	}
	release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return err
	}
	defer release()

	inst := m.instance(modelID)
	if inst == nil {
		return ErrModelNotFound(modelID)
	}
	h := inst.Handle

	var sopts []bridge.StreamOption
	switch {
	case req.TimeoutMs > 0:
		sopts = append(sopts, bridge.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	case m.inferTimeout > 0:
		sopts = append(sopts, bridge.WithTimeout(m.inferTimeout))
	}
	st, err := m.br.GenerateStream(ctx, h, req.Prompt, optionsFrom(req), sopts...)
	if err != nil {
		return err
	}
	// Admission is released only after the engine let go of the handle, so
	// the next queued request never sees it busy.
	defer m.settle(st, h)

	flush := func() {
		if flusher != nil {
			flusher()
		}
	}
	for st.Next(ctx) {
		if err := writeLine(w, types.TokenLine{Token: st.Token(), Index: st.Index()}); err != nil {
			m.log.Debug().Err(err).Str("model", modelID).Msg("client write failed, cancelling")
			return err
		}
		flush()
	}

	done := types.DoneLine{Done: true}
	switch res := st.Result().(type) {
	case bridge.Completed:
		done.Content = res.Text
		done.FinishReason = "stop"
		done.Usage = &types.Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.TotalTokens,
			CountSource:      res.CountSource,
		}
		done.Timings = &types.Timings{
			TotalTimeMs:        res.TotalTimeMs,
			TimeToFirstTokenMs: res.TimeToFirstTokenMs,
			TokensPerSecond:    res.TokensPerSecond,
		}
	case bridge.Cancelled:
		if err := ctx.Err(); err != nil {
			return err
		}
		m.publisher.Publish(Event{Name: "infer_cancelled", ModelID: modelID, Fields: map[string]any{"tokens": res.TokensDelivered}})
		done.Content = res.Text
		done.FinishReason = "cancelled"
		done.Usage = &types.Usage{CompletionTokens: res.TokensDelivered, TotalTokens: res.TokensDelivered}
	case bridge.Failed:
		if st.Delivered() == 0 {
			return st.Err()
		}
		done.Content = st.Text()
		done.FinishReason = "error"
		done.Error = res.Message
		done.Code = int(res.Code)
		if err := writeLine(w, done); err != nil {
			return err
		}
		flush()
		return st.Err()
	}
	if err := writeLine(w, done); err != nil {
		return err
	}
	flush()
	return nil
}

// settle closes st and waits for the worker to leave the engine.
func (m *Manager) settle(st *bridge.Stream, h engine.Handle) {
	_ = st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()
	if err := m.br.Wait(ctx, h); err != nil {
		m.log.Warn().Err(err).Uint64("handle", uint64(h)).Msg("engine did not release handle")
	}
}

func optionsFrom(req types.InferRequest) engine.Options {
	return engine.Options{
		MaxTokens:     req.MaxTokens,
		Temperature:   float32(req.Temperature),
		TopP:          float32(req.TopP),
		TopK:          req.TopK,
		Stop:          req.Stop,
		Seed:          int(req.Seed),
		RepeatPenalty: float32(req.RepeatPenalty),
	}
}

func writeLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
