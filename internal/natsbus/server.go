// Package natsbus carries bridge streams and lifecycle events over NATS,
// either through an external server or one embedded in the process.
package natsbus

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	StreamSubjectPrefix = "tokenbridge.stream."
	EventSubjectPrefix  = "tokenbridge.events."
)

// Bus is a NATS connection plus the embedded server backing it, if any.
type Bus struct {
	ns  *server.Server
	nc  *nats.Conn
	log zerolog.Logger
}

// Open connects to url. An empty url starts an in-process server that does
// not listen on the network.
func Open(url string, log zerolog.Logger) (*Bus, error) {
	if url != "" {
		nc, err := nats.Connect(url, nats.Name("tokenbridge"))
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", url, err)
		}
		log.Info().Str("url", url).Msg("connected to nats")
		return &Bus{nc: nc, log: log}, nil
	}

	ns, err := server.NewServer(&server.Options{DontListen: true})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready")
	}
	nc, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns), nats.Name("tokenbridge"))
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	log.Debug().Msg("embedded nats server started")
	return &Bus{ns: ns, nc: nc, log: log}, nil
}

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Close flushes and closes the connection and stops the embedded server.
func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.FlushTimeout(time.Second)
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}

// StreamSubject is the subject carrying the events of one session.
func StreamSubject(sessionID string) string {
	return StreamSubjectPrefix + sessionID
}

// EventSubject is the subject a lifecycle event is published on.
func EventSubject(name string) string {
	return EventSubjectPrefix + name
}
