package bridge

import (
	"context"
	"sync"
)

// Transport moves events from the native thread to the consumer. Send is
// called from the native side and must never wait for consumer progress;
// everything else is called by the consumer.
//
// Implementations keep FIFO order and refuse any Send after a TerminalResult
// went through.
type Transport interface {
	// Send enqueues ev. It returns ErrAbandoned once the consumer released the
	// stream and ErrClosed after the terminal event.
	Send(ev Event) error
	// Receive returns the next event, blocking until one is available, ctx is
	// done, or Wake is called (ErrWoken).
	Receive(ctx context.Context) (Event, error)
	// Wake interrupts a parked Receive.
	Wake()
	// Abandon marks the consumer gone; subsequent Sends fail.
	Abandon()
	// Close releases transport resources.
	Close() error
}

// TransportFactory opens a transport for one session.
type TransportFactory func(sessionID string) (Transport, error)

// BlockingTransport returns the mutex + condition variable strategy, for
// consumers that are happy to park a goroutine for the whole generation.
func BlockingTransport() TransportFactory {
	return func(string) (Transport, error) { return newBlockingTransport(), nil }
}

// MailboxTransport returns the message-channel strategy: the native side drops
// events into a queue and the consumer drains it from a select loop.
func MailboxTransport() TransportFactory {
	return func(string) (Transport, error) { return newMailbox(), nil }
}

// eventQueue is the FIFO shared by both in-process strategies. Callers hold
// the owner's mutex.
type eventQueue struct {
	items     []Event
	done      bool
	abandoned bool
}

func (q *eventQueue) push(ev Event) error {
	if q.abandoned {
		return ErrAbandoned
	}
	if q.done {
		return ErrClosed
	}
	q.items = append(q.items, ev)
	if _, ok := ev.(TerminalResult); ok {
		q.done = true
	}
	return nil
}

func (q *eventQueue) pop() (Event, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

type blockingTransport struct {
	mu    sync.Mutex
	cond  *sync.Cond
	q     eventQueue
	woken bool
}

func newBlockingTransport() *blockingTransport {
	t := &blockingTransport{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *blockingTransport) Send(ev Event) error {
	t.mu.Lock()
	err := t.q.push(ev)
	t.mu.Unlock()
	if err == nil {
		t.cond.Broadcast()
	}
	return err
}

func (t *blockingTransport) Receive(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.q.items) == 0 && !t.woken && !t.q.abandoned && !t.q.done && ctx.Err() == nil {
		t.cond.Wait()
	}
	if ev, ok := t.q.pop(); ok {
		return ev, nil
	}
	switch {
	case t.woken:
		t.woken = false
		return nil, ErrWoken
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case t.q.abandoned:
		return nil, ErrAbandoned
	default:
		return nil, ErrClosed
	}
}

func (t *blockingTransport) Wake() {
	t.mu.Lock()
	t.woken = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *blockingTransport) Abandon() {
	t.mu.Lock()
	t.q.abandoned = true
	t.q.items = nil
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *blockingTransport) Close() error {
	t.Abandon()
	return nil
}

type mailbox struct {
	mu     sync.Mutex
	q      eventQueue
	notify chan struct{}
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1), wake: make(chan struct{}, 1)}
}

func (m *mailbox) Send(ev Event) error {
	m.mu.Lock()
	err := m.q.push(ev)
	m.mu.Unlock()
	if err == nil {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return err
}

func (m *mailbox) Receive(ctx context.Context) (Event, error) {
	for {
		m.mu.Lock()
		ev, ok := m.q.pop()
		abandoned, done := m.q.abandoned, m.q.done
		m.mu.Unlock()
		if ok {
			return ev, nil
		}
		if abandoned {
			return nil, ErrAbandoned
		}
		if done {
			return nil, ErrClosed
		}
		select {
		case <-m.notify:
		case <-m.wake:
			return nil, ErrWoken
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *mailbox) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) Abandon() {
	m.mu.Lock()
	m.q.abandoned = true
	m.q.items = nil
	m.mu.Unlock()
	m.Wake()
}

func (m *mailbox) Close() error {
	m.Abandon()
	return nil
}
