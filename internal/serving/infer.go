package serving

import (
	"context"
	"fmt"
	"time"

	"inferd/pkg/wire"
)

// Infer runs one call: decode request, acquire the active handle, invoke
// the inference callback, release, encode the response envelope. Calls
// execute strictly sequentially through a single worker slot; a swap may
// complete while a call is in flight, but the call finishes against the
// exact handle it acquired.
//
// On a callback failure the returned bytes are a status:"error" envelope
// and the error satisfies IsInferenceError, so the transport layer can
// pick its status code while still sending the envelope.
func (c *Core) Infer(ctx context.Context, reqBytes []byte) ([]byte, error) {
	start := time.Now()
	req, err := wire.Decode(reqBytes)
	if err != nil {
		return nil, err
	}
	decodeDur := time.Since(start)

	// Single in-flight inference; callers queue here in arrival order.
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slot }()

	h, err := c.acquireActive()
	if err != nil {
		return nil, err
	}

	inferenceTotal.Inc()
	inferStart := time.Now()
	out, inferErr := c.infer(ctx, h.model, h.device, req)
	inferDur := time.Since(inferStart)
	h.release()

	if inferErr != nil {
		inferenceErrorsTotal.Inc()
		c.log.Error().Err(inferErr).Dur("infer", inferDur).Msg("inference failed")
		env := wire.NewMap().
			Set("status", wire.String("error")).
			Set("message", wire.String(inferErr.Error()))
		b, encErr := wire.Encode(env)
		if encErr != nil {
			return nil, ErrInference(inferErr)
		}
		return b, ErrInference(inferErr)
	}

	encStart := time.Now()
	env := wire.NewMap().Set("status", wire.String("ok"))
	if out != nil {
		for _, k := range out.Keys() {
			if k == "status" {
				continue
			}
			v, _ := out.Get(k)
			env.Set(k, v)
		}
	}
	b, err := wire.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	c.log.Debug().
		Dur("decode", decodeDur).
		Dur("infer", inferDur).
		Dur("encode", time.Since(encStart)).
		Int("request_bytes", len(reqBytes)).
		Int("response_bytes", len(b)).
		Msg("infer call")
	return b, nil
}
