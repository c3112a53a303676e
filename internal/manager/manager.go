package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tokenbridge/internal/bridge"
	"tokenbridge/internal/engine"
	"tokenbridge/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	err          string
	registry     []types.Model
	budgetMB     int
	marginMB     int
	usedEstMB    int
	defaultModel string
	instances    map[string]*Instance

	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	inferTimeout  time.Duration

	loadCfg   engine.LoadConfig
	loader    engine.Loader
	br        *bridge.Bridge
	publisher EventPublisher
	log       zerolog.Logger

	startTime      time.Time
	loadsTotal     atomic.Uint64
	evictionsTotal atomic.Uint64
}

// New builds a manager that loads models through loader and streams them
// through br. The bridge must wrap the same engine as loader.
func New(cfg Config, loader engine.Loader, br *bridge.Bridge) *Manager {
	m := &Manager{
		state:         StateLoading,
		registry:      cfg.Registry,
		budgetMB:      cfg.BudgetMB,
		marginMB:      cfg.MarginMB,
		defaultModel:  cfg.DefaultModel,
		instances:     make(map[string]*Instance),
		maxQueueDepth: cfg.MaxQueueDepth,
		maxWait:       cfg.MaxWait,
		drainTimeout:  cfg.DrainTimeout,
		inferTimeout:  cfg.InferTimeout,
		loadCfg:       cfg.Load,
		loader:        loader,
		br:            br,
		publisher:     cfg.Publisher,
		log:           zerolog.Nop(),
		startTime:     time.Now(),
	}
	if m.maxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	}
	if m.maxWait <= 0 {
		m.maxWait = defaultMaxWait
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	return m
}

// Ready reports whether at least one instance can serve requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return false
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

func (m *Manager) instance(modelID string) *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[modelID]
}
