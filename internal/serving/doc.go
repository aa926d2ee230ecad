// Package serving owns the hot-swap lifecycle of the in-memory model and
// drives the per-call inference sequence. It is structured into small
// files by concern:
//
//   - core.go: Core type, Config, constructor, simple getters.
//   - types.go: State, Handle, and the collaborator callback types.
//   - errors.go: error types and helpers (IsBusy, IsNotReady, ...).
//   - swap.go: Start (initial load) and Swap (atomic replacement).
//   - infer.go: the decode/acquire/infer/release/encode call path.
//   - status.go: Status reporting for /status.
//   - metrics.go: prometheus counters and gauges.
//
// The actual model computation is supplied by the embedding application
// through LoadFunc and InferFunc; this package never inspects the model
// beyond holding its handle.
package serving
