package manager

import (
	"time"

	"github.com/rs/zerolog"

	"tokenbridge/internal/engine"
	"tokenbridge/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Config holds the tunables for New.
type Config struct {
	Registry      []types.Model
	BudgetMB      int
	MarginMB      int
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	// DrainTimeout bounds how long Unload waits for queued work.
	DrainTimeout time.Duration
	// InferTimeout, when positive, is applied to every stream without its own timeout.
	InferTimeout time.Duration
	// Load is passed to the engine for every model load.
	Load      engine.LoadConfig
	Publisher EventPublisher
	Logger    *zerolog.Logger
}
