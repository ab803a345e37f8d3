package server

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run when the server is already serving a
// session.
var ErrAlreadyRunning = errors.New("server already running")

// ErrNoTransport is returned by Run when no transport has been configured.
var ErrNoTransport = errors.New("no transport configured, use AsStdio(), AsSSE(), AsWS(), AsNATS() or AsMQTT()")

// StartupError wraps a failure during the start sequence. Startup failures
// are fatal: no partial session is left running.
type StartupError struct {
	// Stage names the startup step that failed (registry, capabilities,
	// transport).
	Stage string
	Err   error
}

// Error returns the error message, implementing the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// protocolError is a dispatch failure attributable to the message itself:
// malformed params, unknown methods, capability not available. It maps to a
// JSON-RPC error response and the session continues.
type protocolError struct {
	code    int
	message string
	detail  string
}

// Error returns the error message, implementing the error interface.
func (e *protocolError) Error() string {
	if e.detail != "" {
		return e.message + ": " + e.detail
	}
	return e.message
}

func newProtocolError(code int, message, detail string) *protocolError {
	return &protocolError{code: code, message: message, detail: detail}
}

// handlerError is a capability handler failure caught at the dispatch
// boundary. It is wrapped into an error response naming the failing
// capability; the transport connection is never torn down because of it.
type handlerError struct {
	capability string
	key        string
	err        error
}

// Error returns the error message, implementing the error interface.
func (e *handlerError) Error() string {
	return fmt.Sprintf("%s %q failed: %v", e.capability, e.key, e.err)
}

// Unwrap returns the underlying handler failure.
func (e *handlerError) Unwrap() error {
	return e.err
}
