package deribit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a request is attempted without a live
	// connection.
	ErrNotConnected = errors.New("deribit: not connected")
	// ErrDisconnected is returned by requests and subscriptions that were
	// terminated by a disconnect. Transport failures are reported as
	// *DisconnectedError, which matches ErrDisconnected with errors.Is.
	ErrDisconnected = errors.New("deribit: disconnected")
)

// ConfigurationError reports a call that cannot be made with the client's
// configuration, such as a private action without credentials. It is returned
// before any I/O.
type ConfigurationError struct {
	Action string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("deribit: %s: %s", e.Action, e.Reason)
}

// DisconnectedError is a disconnect caused by a transport failure.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause == nil {
		return ErrDisconnected.Error()
	}
	return ErrDisconnected.Error() + ": " + e.Cause.Error()
}

func (e *DisconnectedError) Is(target error) bool { return target == ErrDisconnected }

func (e *DisconnectedError) Unwrap() error { return e.Cause }

// RemoteError is a failure envelope returned by the server. Message is the
// server-supplied text, verbatim.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("deribit: %s failed: %s", e.Action, e.Message)
}

// HTTPStatusError is returned by RestClient for non-200 responses.
type HTTPStatusError struct {
	Action     string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("deribit: %s: wrong response code: %d", e.Action, e.StatusCode)
}
