package bridge

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tokenbridge/internal/engine"
)

// StreamOption configures a single stream.
type StreamOption func(*streamConfig)

type streamConfig struct {
	timeout time.Duration
}

// WithTimeout cancels the stream once d has elapsed. The stream then ends as
// Cancelled like any other consumer cancellation.
func WithTimeout(d time.Duration) StreamOption {
	return func(c *streamConfig) { c.timeout = d }
}

// Stream is the consumer side of one generation. Next, Token, Result, Err and
// Close belong to the consuming goroutine; Cancel may be called from anywhere.
//
//	st, err := b.GenerateStream(ctx, h, prompt, opts)
//	if err != nil { ... }
//	defer st.Close()
//	for st.Next(ctx) {
//		fmt.Print(st.Token())
//	}
//	if err := st.Err(); err != nil { ... }
//
// A stream is not restartable.
type Stream struct {
	b    *Bridge
	sess *session
	rl   *relay
	tr   Transport
	key  uintptr
	log  zerolog.Logger

	timer      *time.Timer
	workerDone chan struct{}
	// refs counts the worker and the consumer; the transport closes when both
	// let go.
	refs      atomic.Int32
	closeOnce sync.Once

	cur TokenEvent
}

// ID returns the session id.
func (s *Stream) ID() string { return s.sess.id }

// Handle returns the engine handle the stream runs on.
func (s *Stream) Handle() engine.Handle { return s.sess.handle }

// Next advances to the next token. It returns false once the stream reached
// a terminal state; Result and Err then describe how it ended. If ctx is done
// while waiting, the stream is cancelled.
func (s *Stream) Next(ctx context.Context) bool {
	if st, _, _ := s.sess.snapshot(); st.Terminal() {
		return false
	}
	for {
		if s.sess.cancel.Cancelled() {
			s.drainCancelled()
			return false
		}
		ev, err := s.tr.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrWoken):
			case ctx.Err() != nil:
				s.log.Debug().Err(ctx.Err()).Msg("consumer context done, cancelling")
				s.Cancel()
			default:
				s.end(Failed{Kind: KindBridgeInternal, Code: engine.ErrInternal, Message: "transport: " + err.Error()})
				return false
			}
			continue
		}
		switch ev := ev.(type) {
		case TokenEvent:
			if s.sess.deliver(ev) {
				s.cur = ev
				return true
			}
		case TerminalResult:
			s.end(ev)
			return false
		}
	}
}

// drainCancelled discards buffered tokens and waits a bounded time for the
// relay to acknowledge the cancel.
func (s *Stream) drainCancelled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.b.cancelGrace)
	defer cancel()
	for {
		ev, err := s.tr.Receive(ctx)
		if err == nil {
			if t, ok := ev.(TerminalResult); ok {
				s.end(t)
				return
			}
			continue
		}
		if errors.Is(err, ErrWoken) {
			continue
		}
		break
	}
	s.log.Debug().Msg("cancel not acknowledged by engine, abandoning stream")
	s.tr.Abandon()
	s.end(Cancelled{})
	s.rl.publishOutcome(EventGenerationCancelled, map[string]any{"tokens": s.rl.tokens.Load(), "acknowledged": false})
}

func (s *Stream) end(res TerminalResult) {
	s.sess.finish(res)
	s.stopTimer()
	s.closeOnce.Do(s.release)
}

// Token returns the text of the token Next moved to.
func (s *Stream) Token() string { return s.cur.Text }

// Index returns the sequence index of the current token.
func (s *Stream) Index() int { return s.cur.Index }

// Text returns everything delivered so far.
func (s *Stream) Text() string {
	_, _, text := s.sess.snapshot()
	return text
}

// Delivered returns the number of tokens delivered so far.
func (s *Stream) Delivered() int {
	_, n, _ := s.sess.snapshot()
	return n
}

// State returns the session state.
func (s *Stream) State() State {
	st, _, _ := s.sess.snapshot()
	return st
}

// Result returns the terminal result, or nil while the stream is running.
func (s *Stream) Result() TerminalResult {
	s.sess.mu.Lock()
	defer s.sess.mu.Unlock()
	return s.sess.result
}

// Err returns the failure that ended the stream. Completion and cancellation
// both return nil.
func (s *Stream) Err() error {
	if f, ok := s.Result().(Failed); ok {
		return f.Err()
	}
	return nil
}

// Cancel asks the stream to stop. Tokens not yet handed out are dropped and
// the stream ends as Cancelled. Safe from any goroutine; repeated calls are
// no-ops.
func (s *Stream) Cancel() {
	if s.sess.cancel.Cancel() {
		select {
		case <-s.workerDone:
		default:
			s.b.eng.Cancel(s.sess.handle)
		}
		s.log.Debug().Msg("cancel requested")
	}
	s.tr.Wake()
}

// Close releases the stream. Closing a running stream cancels it and
// abandons the transport so the engine stops at its next callback.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if st, _, _ := s.sess.snapshot(); !st.Terminal() {
			s.Cancel()
			s.tr.Abandon()
			s.sess.finish(Cancelled{})
		}
		s.stopTimer()
		s.release()
	})
	return nil
}

// Tokens returns the remaining tokens as an iterator. Breaking out of the
// loop cancels the stream.
func (s *Stream) Tokens(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		for s.Next(ctx) {
			if !yield(s.Token()) {
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Stream) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Stream) release() {
	if s.refs.Add(-1) == 0 {
		if err := s.tr.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close transport")
		}
	}
}
