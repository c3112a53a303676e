package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/config"
	"tokenbridge/internal/engine"
	"tokenbridge/internal/engine/llama"
	"tokenbridge/internal/engine/lorem"
	"tokenbridge/internal/manager"
	"tokenbridge/internal/metrics"
	"tokenbridge/internal/natsbus"
)

// hostEngine is an engine that can also load models.
type hostEngine interface {
	engine.Engine
	engine.Loader
}

// runtime is the engine, bridge and optional NATS bus shared by commands.
type runtime struct {
	eng hostEngine
	bus *natsbus.Bus
	br  *bridge.Bridge
}

func newEngine(cfg config.Config) (hostEngine, error) {
	switch cfg.Engine {
	case "lorem":
		return lorem.New(cfg.TokenDelay.D()), nil
	case "llama":
		return llama.New(cfg.Threads), nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

// buildRuntime wires the engine into a bridge. A NATS bus is opened when the
// transport is nats or an external server is configured; lifecycle events are
// then mirrored onto it next to the Prometheus collectors.
func buildRuntime(cfg config.Config, log zerolog.Logger) (*runtime, error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{eng: eng}
	pubs := bridge.MultiPublisher{metrics.Publisher{}}

	var transport bridge.TransportFactory
	switch cfg.Transport {
	case "blocking":
		transport = bridge.BlockingTransport()
	case "mailbox":
		transport = bridge.MailboxTransport()
	case "nats":
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.Transport == "nats" || cfg.NATSURL != "" {
		bus, err := natsbus.Open(cfg.NATSURL, log)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		rt.bus = bus
		pubs = append(pubs, bus.Publisher())
		if transport == nil {
			transport = bus.Transport()
		}
	}

	rt.br = bridge.New(eng,
		bridge.WithLogger(log),
		bridge.WithTransport(transport),
		bridge.WithPublisher(pubs),
		bridge.WithTerminalGrace(cfg.TerminalGrace.D()),
		bridge.WithCancelGrace(cfg.CancelGrace.D()),
	)
	log.Debug().Str("engine", cfg.Engine).Str("transport", cfg.Transport).Bool("nats", rt.bus != nil).Msg("runtime ready")
	return rt, nil
}

func (r *runtime) loadConfig(cfg config.Config) engine.LoadConfig {
	return engine.LoadConfig{ContextSize: cfg.ContextSize, Threads: cfg.Threads}
}

func (r *runtime) Close() {
	if r.bus != nil {
		r.bus.Close()
	}
}

// logEvents forwards manager events to the log at debug level.
type logEvents struct{ log zerolog.Logger }

func (l logEvents) Publish(e manager.Event) {
	ev := l.log.Debug().Str("event", e.Name).Str("model", e.ModelID)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager")
}
