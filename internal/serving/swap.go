package serving

import (
	"context"
	"fmt"
)

// Start performs the initial load: Uninitialized -> Loading -> Ready.
// A failure leaves the core Uninitialized; callers treat a startup
// failure as fatal and never expose a partially initialized server.
func (c *Core) Start(ctx context.Context, path, device string) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("start: core is %s, not uninitialized", c.state)
	}
	c.state = StateLoading
	c.mu.Unlock()

	m, err := c.load(ctx, path, device)
	if err != nil {
		c.mu.Lock()
		c.state = StateUninitialized
		c.lastErr = err.Error()
		c.mu.Unlock()
		return ErrModelLoad(path, err)
	}

	h := newHandle(m, path, device, c.freeHandle)
	c.mu.Lock()
	c.active = h
	c.state = StateReady
	c.lastErr = ""
	c.mu.Unlock()
	c.loadsTotal.Add(1)
	loadsTotal.Inc()
	c.log.Info().Str("path", path).Str("device", device).Msg("model loaded")
	return nil
}

// Swap loads a new model and atomically replaces the active handle:
// Ready -> Swapping -> Ready. On load failure the previous handle stays
// active and the error is returned; service availability is never
// interrupted by a failed update. A second swap while one is in
// progress fails immediately with Busy. Success is reported as soon as
// the new handle is active, regardless of how long the old one lingers
// in Retiring.
func (c *Core) Swap(ctx context.Context, path, device string) error {
	if !c.swapping.CompareAndSwap(false, true) {
		return ErrBusy()
	}
	defer c.swapping.Store(false)

	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return ErrNotReady(state)
	}
	c.state = StateSwapping
	c.mu.Unlock()

	// Load outside any lock: in-flight calls keep reading the old handle.
	m, err := c.load(ctx, path, device)
	if err != nil {
		c.mu.Lock()
		c.state = StateReady
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.swapFailures.Add(1)
		swapFailuresTotal.Inc()
		c.log.Error().Err(err).Str("path", path).Msg("swap load failed, previous model stays active")
		return ErrModelLoad(path, err)
	}

	h := newHandle(m, path, device, c.freeHandle)
	c.mu.Lock()
	old := c.active
	c.active = h
	c.state = StateReady
	c.lastErr = ""
	c.mu.Unlock()

	old.retired.Store(true)
	c.retiringCount.Add(1)
	retiringHandles.Inc()
	old.release() // drop the Active reference; frees once in-flight calls finish

	c.loadsTotal.Add(1)
	c.swapsTotal.Add(1)
	loadsTotal.Inc()
	swapsTotal.Inc()
	c.log.Info().Str("path", path).Str("device", device).Msg("model swapped")
	return nil
}
