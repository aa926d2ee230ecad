package serving

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"inferd/pkg/wire"
)

func TestSwapReplacesActiveAndFreesOld(t *testing.T) {
	lc := &loadCounter{}
	c := newTestCore(t, lc.load, echoInfer)
	if err := c.Start(context.Background(), "/models/a", "cpu"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := lc.last.Load()

	resp, err := c.Infer(context.Background(), encodeReq(t))
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if got := decodeResp(t, resp).GetString("model"); got != "model-1" {
		t.Fatalf("served by %q, want model-1", got)
	}

	if err := c.Swap(context.Background(), "/models/b", "cuda:0"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !first.isClosed() {
		t.Fatal("old handle not freed after swap with no in-flight calls")
	}
	resp, err = c.Infer(context.Background(), encodeReq(t))
	if err != nil {
		t.Fatalf("infer after swap: %v", err)
	}
	if got := decodeResp(t, resp).GetString("model"); got != "model-2" {
		t.Fatalf("served by %q, want model-2", got)
	}

	st := c.Status()
	if st.SwapsTotal != 1 || st.LoadsTotal != 2 || st.Device != "cuda:0" {
		t.Fatalf("status: %+v", st)
	}
}

func TestSwapLoadFailureKeepsActive(t *testing.T) {
	lc := &loadCounter{}
	var failLoads atomic.Bool
	load := func(ctx context.Context, path, device string) (Model, error) {
		if failLoads.Load() {
			return nil, errors.New("missing weights file")
		}
		return lc.load(ctx, path, device)
	}
	c := newTestCore(t, load, echoInfer)
	if err := c.Start(context.Background(), "/models/a", "cpu"); err != nil {
		t.Fatalf("start: %v", err)
	}
	failLoads.Store(true)
	err := c.Swap(context.Background(), "/models/broken", "cpu")
	if !IsModelLoadError(err) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if got := c.State(); got != StateReady {
		t.Fatalf("state=%s after failed swap", got)
	}
	if lc.last.Load().isClosed() {
		t.Fatal("active handle was freed by a failed swap")
	}
	resp, err := c.Infer(context.Background(), encodeReq(t))
	if err != nil {
		t.Fatalf("infer after failed swap: %v", err)
	}
	if got := decodeResp(t, resp).GetString("model"); got != "model-1" {
		t.Fatalf("served by %q, want model-1", got)
	}
	if st := c.Status(); st.SwapFailuresTotal != 1 || st.LastError == "" {
		t.Fatalf("status: %+v", st)
	}
}

func TestSecondSwapIsBusy(t *testing.T) {
	lc := &loadCounter{}
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	var blockNext atomic.Bool
	load := func(ctx context.Context, path, device string) (Model, error) {
		if blockNext.Load() {
			entered <- struct{}{}
			<-block
		}
		return lc.load(ctx, path, device)
	}
	c := newTestCore(t, load, echoInfer)
	if err := c.Start(context.Background(), "/models/a", "cpu"); err != nil {
		t.Fatalf("start: %v", err)
	}
	blockNext.Store(true)

	done := make(chan error, 1)
	go func() { done <- c.Swap(context.Background(), "/models/b", "cpu") }()
	<-entered

	// Concurrent swap must fail fast and leave the active handle alone.
	if err := c.Swap(context.Background(), "/models/c", "cpu"); !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	// The in-progress swap never blocks inference against the old handle.
	resp, err := c.Infer(context.Background(), encodeReq(t))
	if err != nil {
		t.Fatalf("infer during swap: %v", err)
	}
	if got := decodeResp(t, resp).GetString("model"); got != "model-1" {
		t.Fatalf("served by %q during swap, want model-1", got)
	}

	blockNext.Store(false)
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first swap: %v", err)
	}
}

func TestInFlightCallFinishesAgainstAcquiredHandle(t *testing.T) {
	lc := &loadCounter{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var blockOnce atomic.Bool
	blockOnce.Store(true)
	infer := func(ctx context.Context, m Model, device string, req *wire.Map) (*wire.Map, error) {
		if blockOnce.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return wire.NewMap().Set("model", wire.String(m.(*fakeModel).id)), nil
	}
	c := newTestCore(t, lc.load, infer)
	if err := c.Start(context.Background(), "/models/a", "cpu"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := lc.last.Load()

	type result struct {
		resp []byte
		err  error
	}
	callDone := make(chan result, 1)
	go func() {
		b, err := c.Infer(context.Background(), encodeReq(t))
		callDone <- result{b, err}
	}()
	<-entered

	// Swap completes while the call is still inside the callback.
	if err := c.Swap(context.Background(), "/models/b", "cpu"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if first.isClosed() {
		t.Fatal("retiring handle freed while still referenced by an in-flight call")
	}
	if st := c.Status(); st.RetiringHandles != 1 {
		t.Fatalf("retiring=%d, want 1", st.RetiringHandles)
	}

	close(release)
	r := <-callDone
	if r.err != nil {
		t.Fatalf("in-flight call: %v", r.err)
	}
	if got := decodeResp(t, r.resp).GetString("model"); got != "model-1" {
		t.Fatalf("in-flight call served by %q, want the handle it acquired (model-1)", got)
	}

	// The last reference is gone; the old model must be closed promptly.
	deadline := time.After(time.Second)
	for !first.isClosed() {
		select {
		case <-deadline:
			t.Fatal("old model never closed after last reference dropped")
		case <-time.After(time.Millisecond):
		}
	}
	if st := c.Status(); st.RetiringHandles != 0 {
		t.Fatalf("retiring=%d after free, want 0", st.RetiringHandles)
	}
}

func TestSwapBeforeStartNotReady(t *testing.T) {
	c := newTestCore(t, (&loadCounter{}).load, echoInfer)
	if err := c.Swap(context.Background(), "/models/a", "cpu"); !IsNotReady(err) {
		t.Fatalf("expected not-ready, got %v", err)
	}
}
