package bridge

import "tokenbridge/internal/engine"

// Event is one item moving from the native thread to the consumer. The set of
// implementations is closed: TokenEvent, Completed, Failed and Cancelled.
type Event interface {
	event()
}

// TerminalResult is the unique last event of a stream.
type TerminalResult interface {
	Event
	// State is the session state the result puts the stream in.
	State() State
}

// TokenEvent carries one token. Text is always an owned copy.
type TokenEvent struct {
	Index int
	Text  string
}

// Count sources reported in Completed.CountSource.
const (
	CountFromEngine = "engine"
	CountFromBridge = "bridge"
)

// Completed ends a successful stream.
type Completed struct {
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	TotalTimeMs        int64
	TokensPerSecond    float64
	TimeToFirstTokenMs int64
	// CountSource tells whether CompletionTokens came from the engine or from
	// the bridge's own count of OnToken calls.
	CountSource string
	// Text is the concatenation of every delivered token, filled in on delivery.
	Text string
}

// Failed ends a stream with an engine or bridge error.
type Failed struct {
	Kind    ErrorKind
	Code    engine.ResultCode
	Message string
}

// Err returns f as an error value.
func (f Failed) Err() error { return &Error{Kind: f.Kind, Code: f.Code, Message: f.Message} }

// Cancelled ends a stream the consumer cancelled. It is not a failure.
type Cancelled struct {
	TokensDelivered int
	Text            string
}

func (TokenEvent) event() {}
func (Completed) event()  {}
func (Failed) event()     {}
func (Cancelled) event()  {}

func (Completed) State() State { return StateCompleted }
func (Failed) State() State    { return StateFailed }
func (Cancelled) State() State { return StateCancelled }

var (
	_ Event          = TokenEvent{}
	_ TerminalResult = Completed{}
	_ TerminalResult = Failed{}
	_ TerminalResult = Cancelled{}
)
