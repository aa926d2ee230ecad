package serving

import (
	"time"

	"inferd/pkg/types"
)

// Status builds the response for GET /status.
func (c *Core) Status() types.StatusResponse {
	c.mu.RLock()
	resp := types.StatusResponse{
		State:     string(c.state),
		LastError: c.lastErr,
	}
	if c.active != nil {
		resp.ModelPath = c.active.path
		resp.Device = c.active.device
	}
	c.mu.RUnlock()

	now := time.Now()
	resp.UptimeSeconds = int64(now.Sub(c.startTime).Seconds())
	resp.ServerTimeUnix = now.Unix()
	resp.LoadsTotal = c.loadsTotal.Load()
	resp.SwapsTotal = c.swapsTotal.Load()
	resp.SwapFailuresTotal = c.swapFailures.Load()
	resp.RetiringHandles = c.retiringCount.Load()
	return resp
}
