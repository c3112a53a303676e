package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbridge/internal/engine"
)

func TestSessionStateMachine(t *testing.T) {
	s := newSession("s1", engine.Handle(1))
	st, _, _ := s.snapshot()
	assert.Equal(t, StateCreated, st)

	s.start()
	require.True(t, s.deliver(TokenEvent{Index: 0, Text: "he"}))
	require.True(t, s.deliver(TokenEvent{Index: 1, Text: "llo"}))

	res := s.finish(Completed{CompletionTokens: 2})
	c, ok := res.(Completed)
	require.True(t, ok)
	assert.Equal(t, "hello", c.Text)

	// First terminal wins.
	again := s.finish(Failed{Code: engine.ErrInternal})
	assert.Equal(t, res, again)
	assert.False(t, s.deliver(TokenEvent{Index: 2, Text: "!"}))

	st, n, text := s.snapshot()
	assert.Equal(t, StateCompleted, st)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hello", text)
}

func TestSessionCancelTurnsAnyTerminalIntoCancelled(t *testing.T) {
	for _, term := range []TerminalResult{
		Completed{CompletionTokens: 9},
		Failed{Kind: KindEngineRuntime, Code: engine.ErrGenerationFailed},
	} {
		s := newSession("s", engine.Handle(1))
		s.start()
		require.True(t, s.deliver(TokenEvent{Text: "a"}))
		assert.True(t, s.cancel.Cancel())
		assert.False(t, s.cancel.Cancel())
		assert.False(t, s.deliver(TokenEvent{Text: "b"}))

		res := s.finish(term)
		c, ok := res.(Cancelled)
		require.True(t, ok, "got %T", res)
		assert.Equal(t, 1, c.TokensDelivered)
		assert.Equal(t, "a", c.Text)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Failed{Kind: KindEngineRuntime, Code: engine.ErrContextTooLong, Message: "too long"}.Err()
	assert.Contains(t, err.Error(), "engine_runtime_error")
	assert.Contains(t, err.Error(), "-132")
	assert.Contains(t, err.Error(), "too long")
	assert.True(t, IsBusy(sessionActiveError{h: 3}))
	assert.False(t, IsBusy(err))
}
