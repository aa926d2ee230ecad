package serving

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Core coordinates the active model handle and the sequential inference
// worker. The active pointer is the sole shared mutable resource:
// inference calls take short-lived shared references under the read
// lock; a swap replaces the pointer under the write lock and nothing
// else happens inside that window.
type Core struct {
	mu     sync.RWMutex
	state  State
	active *Handle
	lastErr string

	swapping atomic.Bool
	slot     chan struct{} // cap 1: single in-flight inference

	load  LoadFunc
	infer InferFunc
	log   zerolog.Logger

	startTime     time.Time
	loadsTotal    atomic.Uint64
	swapsTotal    atomic.Uint64
	swapFailures  atomic.Uint64
	retiringCount atomic.Int64
}

// Config encapsulates the collaborator callbacks and tunables for Core
// construction.
type Config struct {
	Load   LoadFunc
	Infer  InferFunc
	Logger zerolog.Logger
}

// New constructs an uninitialized Core. Call Start before serving.
func New(cfg Config) *Core {
	return &Core{
		state:     StateUninitialized,
		slot:      make(chan struct{}, 1),
		load:      cfg.Load,
		infer:     cfg.Infer,
		log:       cfg.Logger,
		startTime: time.Now(),
	}
}

// Ready reports whether an active model can serve calls. It stays true
// during a swap: the previous handle keeps serving until replaced.
func (c *Core) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active != nil
}

// State returns the current lifecycle state.
func (c *Core) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// acquireActive takes a shared reference to whichever handle is active
// at this instant. The caller must release it exactly once.
func (c *Core) acquireActive() (*Handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil, ErrNotReady(c.state)
	}
	h := c.active
	h.acquire()
	return h, nil
}

// freeHandle runs when a handle's last reference drops.
func (c *Core) freeHandle(h *Handle) {
	if h.retired.Load() {
		c.retiringCount.Add(-1)
		retiringHandles.Dec()
	}
	if err := h.model.Close(); err != nil {
		c.log.Warn().Err(err).Str("path", h.path).Msg("close retired model")
	}
}
