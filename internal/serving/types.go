package serving

import (
	"context"
	"sync/atomic"

	"inferd/pkg/wire"
)

// State represents the lifecycle state of the serving core.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateSwapping      State = "swapping"
)

// Model is an opaque loaded model supplied by the embedding application.
// Close is called once, when the handle's last reference is dropped.
type Model interface {
	Close() error
}

// LoadFunc loads a model from a directory for the given device.
type LoadFunc func(ctx context.Context, path, device string) (Model, error)

// InferFunc runs one inference call against a loaded model. The returned
// mapping is merged into the response envelope under status "ok".
type InferFunc func(ctx context.Context, m Model, device string, req *wire.Map) (*wire.Map, error)

// Handle bundles a loaded model with its device and source path, plus a
// reference count. The count starts at 1 for the Active reference; each
// in-flight call holds one more. When it reaches zero the model is
// closed and the handle is gone for good.
type Handle struct {
	model   Model
	path    string
	device  string
	refs    atomic.Int64
	retired atomic.Bool
	onFree  func(*Handle)
}

func newHandle(m Model, path, device string, onFree func(*Handle)) *Handle {
	h := &Handle{model: m, path: path, device: device, onFree: onFree}
	h.refs.Store(1)
	return h
}

func (h *Handle) Model() Model   { return h.model }
func (h *Handle) Path() string   { return h.path }
func (h *Handle) Device() string { return h.device }

func (h *Handle) acquire() { h.refs.Add(1) }

func (h *Handle) release() {
	if h.refs.Add(-1) == 0 && h.onFree != nil {
		h.onFree(h)
	}
}
