package client

import (
	"errors"
	"fmt"
)

// FailKind classifies a terminal request failure. Exactly one kind
// applies to any failed call.
type FailKind string

const (
	// FailTimeout: every attempt exceeded the per-attempt timeout.
	FailTimeout FailKind = "timeout"
	// FailConnection: every attempt hit a transport fault other than a
	// timeout (refused, reset, unreadable response).
	FailConnection FailKind = "connection"
	// FailApp: the server returned a well-formed status:"error"
	// envelope. Never retried.
	FailApp FailKind = "application"
)

// RequestError is the terminal failure of a driver call.
type RequestError struct {
	Kind     FailKind
	Message  string
	Attempts int
	Err      error // last underlying transport error, if any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (%s) after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

func kindIs(err error, k FailKind) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == k
}

// IsTimeout reports whether err is a timeout-classified terminal failure.
func IsTimeout(err error) bool { return kindIs(err, FailTimeout) }

// IsConnectionError reports whether err is a non-timeout transport failure.
func IsConnectionError(err error) bool { return kindIs(err, FailConnection) }

// IsAppError reports whether err carries a decoded application error envelope.
func IsAppError(err error) bool { return kindIs(err, FailApp) }
