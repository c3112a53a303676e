package natsbus

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/engine/enginetest"
)

func openBus(t *testing.T) *Bus {
	t.Helper()
	b, err := Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func ctxFor(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTransportRoundTrip(t *testing.T) {
	bus := openBus(t)
	tr, err := bus.Transport()("s-1")
	require.NoError(t, err)
	defer tr.Close()
	ctx := ctxFor(t)

	require.NoError(t, tr.Send(bridge.TokenEvent{Index: 0, Text: "héllo"}))
	require.NoError(t, tr.Send(bridge.TokenEvent{Index: 1, Text: " world"}))
	require.NoError(t, tr.Send(bridge.Failed{Kind: bridge.KindEngineRuntime, Code: engine.ErrContextTooLong, Message: "too long"}))
	assert.ErrorIs(t, tr.Send(bridge.TokenEvent{Index: 2, Text: "late"}), bridge.ErrClosed)

	ev, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.TokenEvent{Index: 0, Text: "héllo"}, ev)
	ev, err = tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.TokenEvent{Index: 1, Text: " world"}, ev)
	ev, err = tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.Failed{Kind: bridge.KindEngineRuntime, Code: engine.ErrContextTooLong, Message: "too long"}, ev)

	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, bridge.ErrClosed)
}

func TestTransportWakeAndAbandon(t *testing.T) {
	bus := openBus(t)
	tr, err := bus.Transport()("s-2")
	require.NoError(t, err)

	tr.Wake()
	_, err = tr.Receive(ctxFor(t))
	assert.ErrorIs(t, err, bridge.ErrWoken)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tr.Abandon()
	assert.ErrorIs(t, tr.Send(bridge.TokenEvent{Text: "x"}), bridge.ErrAbandoned)
	_, err = tr.Receive(ctxFor(t))
	assert.ErrorIs(t, err, bridge.ErrAbandoned)
	require.NoError(t, tr.Close())
}

func TestBridgeOverNATS(t *testing.T) {
	bus := openBus(t)
	ctx := ctxFor(t)

	events, err := bus.Conn().SubscribeSync(EventSubjectPrefix + ">")
	require.NoError(t, err)

	eng := enginetest.New()
	h := eng.Add(enginetest.Script{
		Tokens: []string{"The", "sky", "is", "blue"},
		Result: &engine.Result{CompletionTokens: 4},
	})
	b := bridge.New(eng, bridge.WithTransport(bus.Transport()), bridge.WithPublisher(bus.Publisher()))

	st, err := b.GenerateStream(ctx, h, "p", engine.Options{})
	require.NoError(t, err)
	defer st.Close()

	var got []string
	for tok := range st.Tokens(ctx) {
		got = append(got, tok)
	}
	assert.Equal(t, []string{"The", "sky", "is", "blue"}, got)
	res, ok := st.Result().(bridge.Completed)
	require.True(t, ok, "result %T", st.Result())
	assert.Equal(t, 4, res.CompletionTokens)
	assert.Equal(t, "Theskyisblue", res.Text)

	msg, err := events.NextMsgWithContext(ctx)
	require.NoError(t, err)
	var em EventMessage
	require.NoError(t, json.Unmarshal(msg.Data, &em))
	assert.Equal(t, bridge.EventGenerationStarted, em.Name)
	assert.Equal(t, st.ID(), em.SessionID)
}

func TestBridgeOverNATSCancel(t *testing.T) {
	bus := openBus(t)
	ctx := ctxFor(t)

	gate := make(chan struct{}, 4)
	gate <- struct{}{}
	gate <- struct{}{}
	eng := enginetest.New()
	h := eng.Add(enginetest.Script{Tokens: []string{"a", "b", "c", "d"}, Gate: gate})
	b := bridge.New(eng, bridge.WithTransport(bus.Transport()))

	st, err := b.GenerateStream(ctx, h, "p", engine.Options{})
	require.NoError(t, err)
	defer st.Close()

	require.True(t, st.Next(ctx))
	require.True(t, st.Next(ctx))
	st.Cancel()
	close(gate)
	assert.False(t, st.Next(ctx))
	c, ok := st.Result().(bridge.Cancelled)
	require.True(t, ok, "result %T", st.Result())
	assert.Equal(t, 2, c.TokensDelivered)
}

func TestBridgeOverNATSPublishFailure(t *testing.T) {
	bus := openBus(t)
	ctx := ctxFor(t)

	huge := strings.Repeat("x", 2<<20)
	eng := enginetest.New()
	h := eng.Add(enginetest.Script{
		Tokens: []string{"ok", huge, "after"},
		Result: &engine.Result{CompletionTokens: 3},
	})
	pub := bridge.NewMemoryPublisher()
	b := bridge.New(eng, bridge.WithTransport(bus.Transport()), bridge.WithPublisher(pub))

	st, err := b.GenerateStream(ctx, h, "p", engine.Options{})
	require.NoError(t, err)
	defer st.Close()

	var got []string
	for st.Next(ctx) {
		got = append(got, st.Token())
	}
	assert.Equal(t, []string{"ok"}, got)

	f, ok := st.Result().(bridge.Failed)
	require.True(t, ok, "result %T", st.Result())
	assert.Equal(t, bridge.KindBridgeInternal, f.Kind)
	assert.Equal(t, engine.ErrInternal, f.Code)
	assert.Contains(t, f.Message, "transport:")
	require.Error(t, st.Err())

	require.NoError(t, b.Wait(ctx, h))
	calls := eng.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []bool{true, false}, calls[0].Continues)
	assert.NotContains(t, pub.Names(), bridge.EventGenerationCancelled)
	assert.NotContains(t, pub.Names(), bridge.EventContractViolation)
}
