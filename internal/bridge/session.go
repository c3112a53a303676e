package bridge

import (
	"strings"
	"sync"
	"time"

	"tokenbridge/internal/engine"
)

// session is the consumer-owned record of one generation. The native side
// never touches it; it only sees the transport and the cancellation token.
type session struct {
	id      string
	handle  engine.Handle
	created time.Time
	cancel  CancellationToken

	mu     sync.Mutex
	state  State
	text   strings.Builder
	tokens int
	result TerminalResult
}

func newSession(id string, h engine.Handle) *session {
	return &session{id: id, handle: h, created: time.Now(), state: StateCreated}
}

// start moves Created to Streaming once the engine accepted the request.
func (s *session) start() {
	s.mu.Lock()
	if s.state == StateCreated {
		s.state = StateStreaming
	}
	s.mu.Unlock()
}

// deliver records a token handed to the consumer. It refuses tokens once the
// session is terminal or cancellation was requested.
func (s *session) deliver(ev TokenEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.cancel.Cancelled() {
		return false
	}
	s.state = StateStreaming
	s.text.WriteString(ev.Text)
	s.tokens++
	return true
}

// finish applies the terminal result the consumer took delivery of and
// returns the result actually recorded. The first call wins. When
// cancellation was requested any terminal becomes Cancelled: the consumer saw
// a truncated prefix, so a Completed would misreport the text.
func (s *session) finish(res TerminalResult) TerminalResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.result
	}
	if s.cancel.Cancelled() {
		res = Cancelled{}
	}
	switch r := res.(type) {
	case Completed:
		r.Text = s.text.String()
		res = r
	case Cancelled:
		r.TokensDelivered = s.tokens
		r.Text = s.text.String()
		res = r
	}
	s.result = res
	s.state = res.State()
	return res
}

func (s *session) snapshot() (State, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.tokens, s.text.String()
}
