package natsbus

import (
	"encoding/json"
	"time"

	"tokenbridge/internal/bridge"
)

// EventMessage is the JSON body of a lifecycle event on the bus.
type EventMessage struct {
	Name      string         `json:"name"`
	SessionID string         `json:"session_id"`
	Handle    uint64         `json:"handle"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Publisher forwards bridge lifecycle events to tokenbridge.events.<name>.
// nats.Conn.Publish only buffers, so it is safe on the native thread.
type Publisher struct {
	b *Bus
}

// Publisher returns an event publisher on the bus.
func (b *Bus) Publisher() *Publisher { return &Publisher{b: b} }

func (p *Publisher) Publish(e bridge.LifecycleEvent) {
	data, err := json.Marshal(EventMessage{
		Name:      e.Name,
		SessionID: e.SessionID,
		Handle:    uint64(e.Handle),
		Time:      time.Now().UTC(),
		Fields:    e.Fields,
	})
	if err != nil {
		p.b.log.Debug().Err(err).Str("event", e.Name).Msg("encode lifecycle event")
		return
	}
	if err := p.b.nc.Publish(EventSubject(e.Name), data); err != nil {
		p.b.log.Debug().Err(err).Str("event", e.Name).Msg("publish lifecycle event")
	}
}

var _ bridge.EventPublisher = (*Publisher)(nil)
