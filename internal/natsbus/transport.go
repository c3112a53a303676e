package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	nats "github.com/nats-io/nats.go"

	"tokenbridge/internal/bridge"
)

// Frame kinds on a stream subject.
const (
	frameToken     = "token"
	frameCompleted = "completed"
	frameFailed    = "failed"
	frameCancelled = "cancelled"
	frameWake      = "wake"
)

type frame struct {
	Kind      string            `json:"kind"`
	Index     int               `json:"index,omitempty"`
	Text      string            `json:"text,omitempty"`
	Completed *bridge.Completed `json:"completed,omitempty"`
	Failed    *bridge.Failed    `json:"failed,omitempty"`
	Cancelled *bridge.Cancelled `json:"cancelled,omitempty"`
}

func encode(ev bridge.Event) ([]byte, error) {
	var f frame
	switch e := ev.(type) {
	case bridge.TokenEvent:
		f = frame{Kind: frameToken, Index: e.Index, Text: e.Text}
	case bridge.Completed:
		f = frame{Kind: frameCompleted, Completed: &e}
	case bridge.Failed:
		f = frame{Kind: frameFailed, Failed: &e}
	case bridge.Cancelled:
		f = frame{Kind: frameCancelled, Cancelled: &e}
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
	return json.Marshal(f)
}

func decode(data []byte) (bridge.Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	switch f.Kind {
	case frameToken:
		return bridge.TokenEvent{Index: f.Index, Text: f.Text}, nil
	case frameCompleted:
		if f.Completed != nil {
			return *f.Completed, nil
		}
	case frameFailed:
		if f.Failed != nil {
			return *f.Failed, nil
		}
	case frameCancelled:
		if f.Cancelled != nil {
			return *f.Cancelled, nil
		}
	case frameWake:
		return nil, bridge.ErrWoken
	}
	return nil, fmt.Errorf("malformed %q frame", f.Kind)
}

var wakeFrame = []byte(`{"kind":"wake"}`)

// Transport moves one session's events over its own subject. The native side
// publishes; the consumer reads from a synchronous subscription with no
// pending limits, so a slow consumer never causes drops.
type Transport struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription

	mu        sync.Mutex
	sent      bool // terminal published
	received  bool // terminal consumed
	abandoned bool
}

// Transport returns a bridge.TransportFactory bound to the bus.
func (b *Bus) Transport() bridge.TransportFactory {
	return func(sessionID string) (bridge.Transport, error) {
		return NewTransport(b.nc, sessionID)
	}
}

// NewTransport subscribes to the session subject on nc.
func NewTransport(nc *nats.Conn, sessionID string) (*Transport, error) {
	subject := StreamSubject(sessionID)
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return &Transport{nc: nc, subject: subject, sub: sub}, nil
}

func (t *Transport) Send(ev bridge.Event) error {
	_, terminal := ev.(bridge.TerminalResult)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abandoned {
		return bridge.ErrAbandoned
	}
	if t.sent {
		return bridge.ErrClosed
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := t.nc.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", t.subject, err)
	}
	if terminal {
		t.sent = true
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) (bridge.Event, error) {
	t.mu.Lock()
	abandoned, received := t.abandoned, t.received
	t.mu.Unlock()
	if abandoned {
		return nil, bridge.ErrAbandoned
	}
	if received {
		return nil, bridge.ErrClosed
	}

	msg, err := t.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.mu.Lock()
		abandoned = t.abandoned
		t.mu.Unlock()
		if abandoned {
			return nil, bridge.ErrAbandoned
		}
		return nil, fmt.Errorf("%w: %v", bridge.ErrClosed, err)
	}
	ev, err := decode(msg.Data)
	if err != nil {
		return nil, err
	}
	if _, ok := ev.(bridge.TerminalResult); ok {
		t.mu.Lock()
		t.received = true
		t.mu.Unlock()
	}
	return ev, nil
}

// Wake publishes an in-band control frame; Receive turns it into ErrWoken.
func (t *Transport) Wake() {
	_ = t.nc.Publish(t.subject, wakeFrame)
}

func (t *Transport) Abandon() {
	t.mu.Lock()
	if t.abandoned {
		t.mu.Unlock()
		return
	}
	t.abandoned = true
	t.mu.Unlock()
	_ = t.sub.Unsubscribe()
}

func (t *Transport) Close() error {
	t.Abandon()
	return nil
}

var _ bridge.Transport = (*Transport)(nil)
