// Package bridge turns the callback-driven streaming call of a native
// inference engine into a pull-based token stream for Go consumers.
//
// The engine runs each generation on a thread it owns and calls back into Go
// for every token and once more with the outcome. The bridge copies every
// payload on arrival, hands it to the consumer through a Transport, and turns
// the callbacks into a single state machine with exactly one terminal result.
package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tokenbridge/internal/engine"
)

const (
	defaultTerminalGrace = 2 * time.Second
	defaultCancelGrace   = 5 * time.Second
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithTransport selects the transport backend for every stream of the bridge.
func WithTransport(f TransportFactory) Option {
	return func(b *Bridge) {
		if f != nil {
			b.transport = f
		}
	}
}

// WithHostRuntime sets the runtime native threads attach to before relaying.
func WithHostRuntime(rt HostRuntime) Option {
	return func(b *Bridge) { b.adapter = NewContextAdapter(rt) }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(b *Bridge) {
		if p != nil {
			b.pub = p
		}
	}
}

// WithTerminalGrace bounds how long the bridge waits for a terminal callback
// after the engine call returned without one.
func WithTerminalGrace(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.terminalGrace = d
		}
	}
}

// WithCancelGrace bounds how long a cancelled consumer waits for the engine
// to acknowledge before it gives up on the stream.
func WithCancelGrace(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.cancelGrace = d
		}
	}
}

// Bridge owns the streams running against one engine. At most one stream is
// in flight per handle.
type Bridge struct {
	eng           engine.Engine
	log           zerolog.Logger
	transport     TransportFactory
	adapter       *ContextAdapter
	pub           EventPublisher
	terminalGrace time.Duration
	cancelGrace   time.Duration

	mu     sync.Mutex
	active map[engine.Handle]*Stream
}

// New returns a Bridge over eng using the blocking transport and the Go host
// runtime unless told otherwise.
func New(eng engine.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		eng:           eng,
		log:           zerolog.Nop(),
		transport:     BlockingTransport(),
		pub:           noopPublisher{},
		terminalGrace: defaultTerminalGrace,
		cancelGrace:   defaultCancelGrace,
		active:        make(map[engine.Handle]*Stream),
	}
	for _, o := range opts {
		o(b)
	}
	if b.adapter == nil {
		b.adapter = NewContextAdapter(GoRuntime())
	}
	return b
}

// GenerateStream starts a generation on h and returns once the engine has
// accepted it. A synchronous refusal by the engine comes back as an *Error of
// kind KindEngineRejected and no stream is created. ctx bounds only the start;
// each Next call takes its own context.
func (b *Bridge) GenerateStream(ctx context.Context, h engine.Handle, prompt string, opts engine.Options, sopts ...StreamOption) (*Stream, error) {
	var cfg streamConfig
	for _, o := range sopts {
		o(&cfg)
	}

	id := uuid.NewString()
	tr, err := b.transport(id)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	log := b.log.With().Str("session", id).Uint64("handle", uint64(h)).Logger()
	sess := newSession(id, h)
	st := &Stream{
		b:          b,
		sess:       sess,
		tr:         tr,
		log:        log,
		workerDone: make(chan struct{}),
	}
	st.refs.Store(2)
	st.rl = newRelay(id, h, &sess.cancel, tr, b.adapter, b.pub, log)

	if err := b.claim(ctx, h, st); err != nil {
		_ = tr.Close()
		return nil, err
	}

	st.key = relays.register(st.rl)
	st.rl.publish(EventGenerationStarted, map[string]any{
		"prompt_length": len(prompt),
		"max_tokens":    opts.MaxTokens,
	})
	log.Debug().Int("prompt_length", len(prompt)).Msg("starting stream")
	if cfg.timeout > 0 {
		st.timer = time.AfterFunc(cfg.timeout, st.Cancel)
	}
	go b.run(st, prompt, opts)

	select {
	case code := <-st.rl.startCh:
		if !code.OK() {
			st.stopTimer()
			st.release()
			st.rl.publish(EventGenerationRejected, map[string]any{"code": int32(code)})
			log.Debug().Str("code", code.String()).Msg("engine rejected stream")
			return nil, &Error{Kind: KindEngineRejected, Code: code, Message: "engine refused to start generation"}
		}
		sess.start()
		return st, nil
	case <-ctx.Done():
		_ = st.Close()
		return nil, ctx.Err()
	}
}

// claim reserves h for st. A previous stream that already produced its
// terminal result is waited for; one that is still generating makes h busy.
func (b *Bridge) claim(ctx context.Context, h engine.Handle, st *Stream) error {
	for {
		b.mu.Lock()
		cur := b.active[h]
		if cur == nil {
			b.active[h] = st
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		if !cur.rl.terminal.Load() {
			return sessionActiveError{h: h}
		}
		select {
		case <-cur.workerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) unclaim(h engine.Handle, st *Stream) {
	b.mu.Lock()
	if b.active[h] == st {
		delete(b.active, h)
	}
	b.mu.Unlock()
}

// run is the native worker. It owns its OS thread for the whole engine call,
// the way a native engine owns its generation thread.
func (b *Bridge) run(st *Stream, prompt string, opts engine.Options) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rl := st.rl
	code := b.call(st, prompt, opts)

	if !code.OK() && !rl.callbacks.Load() {
		relays.remove(st.key)
		b.unclaim(st.sess.handle, st)
		close(st.workerDone)
		st.release()
		rl.signalStart(code)
		return
	}
	rl.signalStart(engine.Success)

	if !rl.terminal.Load() && !rl.cancel.Cancelled() && rl.attachErr.Load() == nil {
		t := time.NewTimer(b.terminalGrace)
		select {
		case <-rl.terminalCh:
		case <-t.C:
		}
		t.Stop()
	}
	rl.synthesize(code)

	relays.remove(st.key)
	b.unclaim(st.sess.handle, st)
	close(st.workerDone)
	st.release()
}

func (b *Bridge) call(st *Stream, prompt string, opts engine.Options) (code engine.ResultCode) {
	defer func() {
		if p := recover(); p != nil {
			st.log.Error().Interface("panic", p).Msg("engine call panicked")
			code = engine.ErrInternal
		}
	}()
	return b.eng.GenerateStream(st.sess.handle, prompt, opts, nativeCallbacks, st.key)
}

// Cancel requests cancellation of the stream in flight on h. It is safe from
// any goroutine and reports whether a stream was found.
func (b *Bridge) Cancel(h engine.Handle) bool {
	b.mu.Lock()
	st := b.active[h]
	b.mu.Unlock()
	if st == nil {
		return false
	}
	st.Cancel()
	return true
}

// Active reports whether h has a stream whose worker is still running.
func (b *Bridge) Active(h engine.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[h] != nil
}

// Wait blocks until h has no stream in flight or ctx is done.
func (b *Bridge) Wait(ctx context.Context, h engine.Handle) error {
	for {
		b.mu.Lock()
		st := b.active[h]
		b.mu.Unlock()
		if st == nil {
			return nil
		}
		select {
		case <-st.workerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
