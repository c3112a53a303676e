package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/manager"
	"tokenbridge/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		IncrementBackpressure("queue")
		return http.StatusTooManyRequests
	case bridge.IsBusy(err):
		IncrementBackpressure("session_active")
		return http.StatusTooManyRequests
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	var be *bridge.Error
	if errors.As(err, &be) {
		switch be.Code {
		case engine.ErrInvalidArgument, engine.ErrContextTooLong:
			return http.StatusBadRequest
		case engine.ErrNotSupported:
			return http.StatusNotImplemented
		case engine.ErrGenerationTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
