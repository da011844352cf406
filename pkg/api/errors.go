package api

import "errors"

// NetworkError wraps a transient transport-level failure (connection refused,
// timeout, 5xx). Mutations that hit one are rolled back and may be retried by
// the user; it is never fatal.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "api: " + e.Op + ": network failure: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
