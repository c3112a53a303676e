// Package httpapi exposes the manager over HTTP: NDJSON token streaming on
// /infer, cancellation, model listing, status, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tokenbridge/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	Cancel(modelID string) (bool, error)
	Ready() bool
}

// countingWriter remembers whether the response body was started.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		var req types.InferRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		rl := requestLogger(r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		out := &countingWriter{w: w}
		var writer io.Writer = out
		if rl.GetLevel() <= zerolog.DebugLevel {
			writer = io.MultiWriter(out, &lineLogger{log: rl})
		}
		start := time.Now()
		rl.Info().Str("model", req.Model).Int("max_tokens", req.MaxTokens).Msg("infer start")

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		err := svc.Infer(ctx, req, writer, flush)
		switch {
		case err == nil:
			rl.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("infer end")
		case r.Context().Err() != nil || serverBaseCtx.Err() != nil:
			rl.Info().Err(err).Dur("dur", time.Since(start)).Msg("infer aborted")
		case out.n > 0:
			// Headers are gone; the final NDJSON line carries the error.
			rl.Warn().Err(err).Dur("dur", time.Since(start)).Msg("infer failed mid-stream")
		default:
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			rl.Info().Int("status", status).Err(err).Dur("dur", time.Since(start)).Msg("infer end")
		}
	})

	r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
		var req types.CancelRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		ok, err := svc.Cancel(req.Model)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		rl := requestLogger(r)
		rl.Info().Str("model", req.Model).Bool("cancelled", ok).Msg("cancel")
		writeJSON(w, types.CancelResponse{Model: req.Model, Cancelled: ok})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func requestLogger(r *http.Request) zerolog.Logger {
	l := zlog.Level(requestLogLevel(r))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return l
}

// decodeJSON reads a size-limited JSON body into v. An empty body is accepted
// when required is false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	if !required && r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
