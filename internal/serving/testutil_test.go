package serving

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"inferd/pkg/wire"
)

// fakeModel records identity and close state for lifecycle assertions.
type fakeModel struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("double close of %s", m.id)
	}
	m.closed = true
	return nil
}

func (m *fakeModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// loadCounter builds a LoadFunc that returns sequentially numbered fake
// models, remembering the last one handed out.
type loadCounter struct {
	n    atomic.Int64
	last atomic.Pointer[fakeModel]
	err  error
}

func (lc *loadCounter) load(ctx context.Context, path, device string) (Model, error) {
	if lc.err != nil {
		return nil, lc.err
	}
	m := &fakeModel{id: fmt.Sprintf("model-%d", lc.n.Add(1))}
	lc.last.Store(m)
	return m, nil
}

// echoInfer returns the model id plus a fixed float32[7] action vector.
func echoInfer(ctx context.Context, m Model, device string, req *wire.Map) (*wire.Map, error) {
	out, err := wire.Float32Array(nil, make([]float32, 7))
	if err != nil {
		return nil, err
	}
	return wire.NewMap().
		Set("model", wire.String(m.(*fakeModel).id)).
		Set("output", out), nil
}

func newTestCore(t *testing.T, load LoadFunc, infer InferFunc) *Core {
	t.Helper()
	return New(Config{Load: load, Infer: infer, Logger: zerolog.Nop()})
}

func encodeReq(t *testing.T, keyvals ...string) []byte {
	t.Helper()
	m := wire.NewMap()
	for i := 0; i+1 < len(keyvals); i += 2 {
		m.Set(keyvals[i], wire.String(keyvals[i+1]))
	}
	b, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return b
}

func decodeResp(t *testing.T, b []byte) *wire.Map {
	t.Helper()
	m, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}
