package bridge

import (
	"errors"
	"fmt"

	"tokenbridge/internal/engine"
)

// ErrorKind classifies how a stream failed.
type ErrorKind int

const (
	// KindEngineRejected: the engine refused the request before streaming.
	KindEngineRejected ErrorKind = iota + 1
	// KindEngineRuntime: the engine reported an error through OnError.
	KindEngineRuntime
	// KindBridgeInternal: the engine broke the callback contract or the
	// transport failed.
	KindBridgeInternal
	// KindConsumerCancelled is a terminal state, never returned as an error.
	KindConsumerCancelled
	// KindContextAttachFailed: a native thread could not enter the host runtime.
	KindContextAttachFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindEngineRejected:
		return "engine_rejected"
	case KindEngineRuntime:
		return "engine_runtime_error"
	case KindBridgeInternal:
		return "bridge_internal"
	case KindConsumerCancelled:
		return "consumer_cancelled"
	case KindContextAttachFailed:
		return "context_attach_failed"
	default:
		return "unknown"
	}
}

// Error carries the native code and message verbatim.
type Error struct {
	Kind    ErrorKind
	Code    engine.ResultCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d): %s", e.Kind, e.Code, int32(e.Code), e.Message)
}

// IsRejected reports whether err is a synchronous engine rejection.
func IsRejected(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindEngineRejected
}

// CodeOf returns the native result code carried by err, or ErrInternal.
func CodeOf(err error) engine.ResultCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return engine.ErrInternal
}

// sessionActiveError signals a second stream on a handle that is still generating.
type sessionActiveError struct{ h engine.Handle }

func (e sessionActiveError) Error() string {
	return fmt.Sprintf("stream already active on handle %d", e.h)
}

// IsBusy reports whether err means the handle already has a stream in flight.
func IsBusy(err error) bool {
	var se sessionActiveError
	return errors.As(err, &se)
}

var (
	// ErrAbandoned is returned by Transport.Send once the consumer released the stream.
	ErrAbandoned = errors.New("bridge: stream abandoned by consumer")
	// ErrClosed is returned after the terminal event went through the transport.
	ErrClosed = errors.New("bridge: transport closed")
	// ErrRuntimeUnavailable is returned by host runtimes that refuse attachment.
	ErrRuntimeUnavailable = errors.New("bridge: host runtime unavailable")

	// ErrWoken is returned by Receive after Wake so the consumer re-checks cancellation.
	ErrWoken = errors.New("bridge: woken")
)
