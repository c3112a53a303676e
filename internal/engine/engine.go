// Package engine describes the boundary to a native inference engine.
//
// An engine exposes one blocking call, GenerateStream, that drives three
// callbacks from a thread the engine owns. Callers must treat every argument
// handed to a callback as borrowed: token bytes in particular may be reused by
// the engine as soon as OnToken returns.
package engine

import (
	"errors"
	"strconv"
)

// Handle identifies one loaded model/session inside an engine. It owns no
// stream state; it is only the entry point for starting a stream.
type Handle uint64

// InvalidHandle is never returned by a successful Load.
const InvalidHandle Handle = 0

// ResultCode is the native status code returned by GenerateStream and passed
// to OnError. Zero is success; failures are negative.
type ResultCode int32

const (
	Success              ResultCode = 0
	ErrGenerationFailed  ResultCode = -130
	ErrGenerationTimeout ResultCode = -131
	ErrContextTooLong    ResultCode = -132
	ErrNotSupported      ResultCode = -236
	ErrInvalidArgument   ResultCode = -259
	ErrCancelled         ResultCode = -380
	ErrInvalidHandle     ResultCode = -610
	ErrInternal          ResultCode = -805
)

var codeNames = map[ResultCode]string{
	Success:              "SUCCESS",
	ErrGenerationFailed:  "GENERATION_FAILED",
	ErrGenerationTimeout: "GENERATION_TIMEOUT",
	ErrContextTooLong:    "CONTEXT_TOO_LONG",
	ErrNotSupported:      "NOT_SUPPORTED",
	ErrInvalidArgument:   "INVALID_ARGUMENT",
	ErrCancelled:         "CANCELLED",
	ErrInvalidHandle:     "INVALID_HANDLE",
	ErrInternal:          "INTERNAL",
}

func (c ResultCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "CODE(" + strconv.Itoa(int(c)) + ")"
}

// OK reports whether c is Success.
func (c ResultCode) OK() bool { return c == Success }

// Options captures generation parameters passed to the engine.
type Options struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// Result is the engine-side summary passed to OnComplete. Engines may leave
// any field zero when they do not track it.
type Result struct {
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	TotalTimeMs        int64
	TokensPerSecond    float64
	TimeToFirstTokenMs int64
}

// Callbacks are the three entry points an engine invokes while streaming.
// userData is the opaque value the caller passed to GenerateStream.
type Callbacks struct {
	// OnToken is called 0..N times. text is only valid for the duration of
	// the call. Returning false asks the engine to stop at the next
	// opportunity.
	OnToken func(text []byte, userData uintptr) bool
	// OnComplete is called at most once, never together with OnError.
	OnComplete func(res *Result, userData uintptr)
	// OnError is called at most once, never together with OnComplete.
	OnError func(code ResultCode, message string, userData uintptr)
}

// Engine is a native inference backend.
type Engine interface {
	// GenerateStream blocks the calling thread for the whole generation and
	// invokes cb from it. A non-success return with no callbacks fired is a
	// rejection: the request never started streaming.
	GenerateStream(h Handle, prompt string, opts Options, cb Callbacks, userData uintptr) ResultCode
	// Cancel asks any in-flight generation on h to stop. Safe from any
	// goroutine and idempotent.
	Cancel(h Handle)
}

// LoadConfig holds backend tunables applied when a model is loaded.
type LoadConfig struct {
	ContextSize int
	Threads     int
}

// Loader loads models into handles. Engines that can host models implement it.
type Loader interface {
	Load(modelPath string, cfg LoadConfig) (Handle, error)
	Unload(h Handle) error
}

// ErrUnavailable is returned by loaders whose backend was not compiled in.
var ErrUnavailable = errors.New("engine backend unavailable")

// EstimateTokens approximates the token count of text at four bytes per
// token, for engines that cannot tokenize before generating.
func EstimateTokens(text string) int {
	return len(text) / 4
}
