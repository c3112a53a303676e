package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tokenbridge/internal/engine"
)

// relay receives the native callbacks of one session. Every entry point runs
// on a thread the engine owns, so it only copies data, pushes it into the
// transport and returns.
type relay struct {
	id      string
	handle  engine.Handle
	cancel  *CancellationToken
	tr      Transport
	adapter *ContextAdapter
	pub     EventPublisher
	log     zerolog.Logger
	started time.Time

	// tokens counts OnToken calls that were forwarded.
	tokens       atomic.Int64
	firstTokenNs atomic.Int64

	terminal   atomic.Bool
	terminalCh chan struct{}
	// selfEnded is set when the relay itself produced the terminal, either to
	// acknowledge a cancel or after a transport fault. The engine's own
	// terminal that follows is then expected.
	selfEnded atomic.Bool
	// outcomePublished guards the single completed/failed/cancelled event.
	outcomePublished atomic.Bool
	attachErr   atomic.Pointer[Error]

	// startCh receives Success on the first callback or the engine's return
	// code, whichever comes first.
	startOnce sync.Once
	startCh   chan engine.ResultCode
	callbacks atomic.Bool
}

func newRelay(id string, h engine.Handle, cancel *CancellationToken, tr Transport, adapter *ContextAdapter, pub EventPublisher, log zerolog.Logger) *relay {
	return &relay{
		id:         id,
		handle:     h,
		cancel:     cancel,
		tr:         tr,
		adapter:    adapter,
		pub:        pub,
		log:        log,
		started:    time.Now(),
		terminalCh: make(chan struct{}),
		startCh:    make(chan engine.ResultCode, 1),
	}
}

func (r *relay) signalStart(code engine.ResultCode) {
	r.startOnce.Do(func() { r.startCh <- code })
}

// enter marks the stream as accepted and opens a host context scope.
func (r *relay) enter(what string) (*Scope, bool) {
	r.callbacks.Store(true)
	r.signalStart(engine.Success)
	scope, err := r.adapter.Enter()
	if err != nil {
		be, _ := err.(*Error)
		if be == nil {
			be = &Error{Kind: KindContextAttachFailed, Code: engine.ErrInternal, Message: err.Error()}
		}
		r.attachErr.CompareAndSwap(nil, be)
		// Only atomics and the logger from here on.
		r.log.Error().Str("session", r.id).Str("callback", what).Msg("attach failed, dropping callback")
		return nil, false
	}
	return scope, true
}

func (r *relay) publish(name string, fields map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("session", r.id).Interface("panic", p).Msg("event publisher panicked")
		}
	}()
	r.pub.Publish(LifecycleEvent{Name: name, SessionID: r.id, Handle: r.handle, Fields: fields})
}

func (r *relay) onToken(text []byte) (cont bool) {
	scope, ok := r.enter("token")
	if !ok {
		return false
	}
	defer scope.Release()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("session", r.id).Interface("panic", p).Msg("token relay panicked")
			r.cancel.Cancel()
			r.finishCancelled()
			cont = false
		}
	}()

	if r.terminal.Load() {
		if !r.selfEnded.Load() {
			r.violation("token callback after terminal")
		}
		return false
	}
	if r.cancel.Cancelled() {
		r.finishCancelled()
		return false
	}
	idx := int(r.tokens.Add(1)) - 1
	if idx == 0 {
		r.firstTokenNs.Store(time.Since(r.started).Nanoseconds())
		r.publish(EventFirstToken, map[string]any{"ttft_ms": r.ttftMs()})
	}
	if err := r.tr.Send(TokenEvent{Index: idx, Text: string(text)}); err != nil {
		r.tokens.Add(-1)
		if errors.Is(err, ErrAbandoned) || errors.Is(err, ErrClosed) {
			r.log.Debug().Str("session", r.id).Err(err).Msg("consumer gone, stopping engine")
			r.cancel.Cancel()
			r.finishCancelled()
			return false
		}
		r.transportFault(err)
		return false
	}
	if n := idx + 1; n%streamingUpdateEvery == 0 {
		r.log.Debug().Str("session", r.id).Int("tokens", n).Msg("streaming")
		r.publish(EventStreamingUpdate, map[string]any{"tokens": n})
	}
	return true
}

func (r *relay) onComplete(res *engine.Result) {
	scope, ok := r.enter("complete")
	if !ok {
		return
	}
	defer scope.Release()

	if !r.claimTerminal("complete") {
		return
	}
	if r.cancel.Cancelled() {
		r.sendCancelled()
		return
	}
	c := r.completed(res)
	r.send(c)
	r.publishOutcome(EventGenerationCompleted, map[string]any{
		"prompt_tokens":     c.PromptTokens,
		"completion_tokens": c.CompletionTokens,
		"duration_ms":       c.TotalTimeMs,
		"tokens_per_second": c.TokensPerSecond,
		"ttft_ms":           c.TimeToFirstTokenMs,
		"count_source":      c.CountSource,
	})
}

func (r *relay) onError(code engine.ResultCode, message string) {
	scope, ok := r.enter("error")
	if !ok {
		return
	}
	defer scope.Release()

	if !r.claimTerminal("error") {
		return
	}
	if r.cancel.Cancelled() {
		r.sendCancelled()
		return
	}
	r.send(Failed{Kind: KindEngineRuntime, Code: code, Message: message})
	r.publishOutcome(EventGenerationFailed, map[string]any{"code": int32(code), "message": message})
}

// claimTerminal makes the caller the single producer of the terminal event.
// A loser is either the engine's answer to our own stop request or a genuine
// contract violation.
func (r *relay) claimTerminal(what string) bool {
	if r.terminal.CompareAndSwap(false, true) {
		return true
	}
	if r.selfEnded.Load() {
		r.log.Debug().Str("session", r.id).Str("callback", what).Msg("terminal after relay ended the stream, ignored")
		return false
	}
	r.violation(fmt.Sprintf("%s callback after terminal", what))
	return false
}

func (r *relay) violation(msg string) {
	r.log.Warn().Str("session", r.id).Msg("engine contract violation: " + msg)
	r.publish(EventContractViolation, map[string]any{"reason": msg})
}

// finishCancelled produces Cancelled unless another terminal got there first.
func (r *relay) finishCancelled() {
	if r.terminal.CompareAndSwap(false, true) {
		r.sendCancelled()
	}
}

func (r *relay) sendCancelled() {
	r.selfEnded.Store(true)
	r.send(Cancelled{})
	r.publishOutcome(EventGenerationCancelled, map[string]any{"tokens": r.tokens.Load(), "acknowledged": true})
}

// transportFault ends the stream as Failed when the transport refused a token
// for a reason other than the consumer leaving. The cancellation token is
// left alone; the consumer still receives every token sent before the fault.
func (r *relay) transportFault(err error) {
	if !r.terminal.CompareAndSwap(false, true) {
		return
	}
	r.selfEnded.Store(true)
	msg := "transport: " + err.Error()
	r.log.Error().Str("session", r.id).Err(err).Msg("transport send failed, stopping engine")
	r.send(Failed{Kind: KindBridgeInternal, Code: engine.ErrInternal, Message: msg})
	r.publishOutcome(EventGenerationFailed, map[string]any{"code": int32(engine.ErrInternal), "message": msg})
}

// publishOutcome publishes the session's terminal lifecycle event. Only the
// first call per session goes through.
func (r *relay) publishOutcome(name string, fields map[string]any) {
	if r.outcomePublished.CompareAndSwap(false, true) {
		r.publish(name, fields)
	}
}

// send pushes a terminal event. The caller owns the terminal claim.
func (r *relay) send(ev TerminalResult) {
	if err := r.tr.Send(ev); err != nil {
		r.log.Debug().Str("session", r.id).Err(err).Msg("terminal not delivered")
	}
	close(r.terminalCh)
}

// synthesize produces a terminal for an engine that returned without one.
func (r *relay) synthesize(code engine.ResultCode) {
	if !r.terminal.CompareAndSwap(false, true) {
		return
	}
	switch {
	case r.cancel.Cancelled():
		r.sendCancelled()
		return
	case r.attachErr.Load() != nil:
		ae := r.attachErr.Load()
		r.send(Failed{Kind: ae.Kind, Code: ae.Code, Message: ae.Message})
		r.publish(EventAttachFailed, map[string]any{"message": ae.Message})
		return
	}
	msg := fmt.Sprintf("engine returned %s without a terminal callback", code)
	r.violation(msg)
	r.send(Failed{Kind: KindBridgeInternal, Code: engine.ErrInternal, Message: msg})
	r.publishOutcome(EventGenerationFailed, map[string]any{"code": int32(engine.ErrInternal), "message": msg})
}

func (r *relay) ttftMs() int64 {
	return time.Duration(r.firstTokenNs.Load()).Milliseconds()
}

// completed builds the Completed result. The engine's completion count wins
// when it reported one; a zero falls back to the relay's own count and the
// result says so in CountSource.
func (r *relay) completed(res *engine.Result) Completed {
	var er engine.Result
	if res != nil {
		er = *res
	}
	local := int(r.tokens.Load())
	c := Completed{
		PromptTokens:       er.PromptTokens,
		CompletionTokens:   er.CompletionTokens,
		TotalTokens:        er.TotalTokens,
		TotalTimeMs:        er.TotalTimeMs,
		TokensPerSecond:    er.TokensPerSecond,
		TimeToFirstTokenMs: er.TimeToFirstTokenMs,
		CountSource:        CountFromEngine,
	}
	if c.CompletionTokens == 0 {
		c.CompletionTokens = local
		c.CountSource = CountFromBridge
	} else if c.CompletionTokens != local {
		r.log.Debug().Str("session", r.id).Int("engine", c.CompletionTokens).Int("bridge", local).Msg("token counts differ")
	}
	if c.TotalTokens == 0 {
		c.TotalTokens = c.PromptTokens + c.CompletionTokens
	}
	if c.TotalTimeMs == 0 {
		c.TotalTimeMs = time.Since(r.started).Milliseconds()
	}
	if c.TokensPerSecond == 0 && c.TotalTimeMs > 0 {
		c.TokensPerSecond = float64(c.CompletionTokens) / (float64(c.TotalTimeMs) / 1000.0)
	}
	if c.TimeToFirstTokenMs == 0 && r.firstTokenNs.Load() > 0 {
		c.TimeToFirstTokenMs = r.ttftMs()
	}
	return c
}

// relayTable maps the opaque userData handed to the engine back to a relay.
// Native code cannot hold Go pointers across calls, so it gets a key.
type relayTable struct {
	mu   sync.RWMutex
	next uintptr
	m    map[uintptr]*relay
}

var relays = &relayTable{m: make(map[uintptr]*relay)}

func (t *relayTable) register(r *relay) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.m[t.next] = r
	return t.next
}

func (t *relayTable) lookup(key uintptr) *relay {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[key]
}

func (t *relayTable) remove(key uintptr) {
	t.mu.Lock()
	delete(t.m, key)
	t.mu.Unlock()
}

// nativeCallbacks are registered with the engine for every stream. A stale
// key (session already torn down) stops the engine and drops the event.
var nativeCallbacks = engine.Callbacks{
	OnToken: func(text []byte, userData uintptr) bool {
		if r := relays.lookup(userData); r != nil {
			return r.onToken(text)
		}
		return false
	},
	OnComplete: func(res *engine.Result, userData uintptr) {
		if r := relays.lookup(userData); r != nil {
			r.onComplete(res)
		}
	},
	OnError: func(code engine.ResultCode, message string, userData uintptr) {
		if r := relays.lookup(userData); r != nil {
			r.onError(code, message)
		}
	},
}
