package serving

import "fmt"

// busyError signals a swap attempted while another is in progress.
type busyError struct{}

func (busyError) Error() string { return "model swap already in progress" }

// ErrBusy constructs a busyError.
func ErrBusy() error { return busyError{} }

// IsBusy reports whether err indicates a concurrent swap attempt.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// notReadyError signals that no model is active yet.
type notReadyError struct{ state State }

func (e notReadyError) Error() string { return "service not ready (state " + string(e.state) + ")" }

// ErrNotReady constructs a notReadyError for the given state.
func ErrNotReady(state State) error { return notReadyError{state: state} }

// IsNotReady reports whether err indicates the core has no active model.
func IsNotReady(err error) bool {
	_, ok := err.(notReadyError)
	return ok
}

// loadError wraps a failure of the load callback.
type loadError struct {
	path string
	err  error
}

func (e loadError) Error() string { return fmt.Sprintf("load model %s: %v", e.path, e.err) }
func (e loadError) Unwrap() error { return e.err }

// ErrModelLoad constructs a loadError.
func ErrModelLoad(path string, err error) error { return loadError{path: path, err: err} }

// IsModelLoadError reports whether err came from a failed model load.
func IsModelLoadError(err error) bool {
	_, ok := err.(loadError)
	return ok
}

// inferenceError wraps a failure of the inference callback. The call's
// response envelope still carries status "error" with the message.
type inferenceError struct{ err error }

func (e inferenceError) Error() string { return "inference: " + e.err.Error() }
func (e inferenceError) Unwrap() error { return e.err }

// ErrInference constructs an inferenceError.
func ErrInference(err error) error { return inferenceError{err: err} }

// IsInferenceError reports whether err came from the inference callback.
func IsInferenceError(err error) bool {
	_, ok := err.(inferenceError)
	return ok
}
