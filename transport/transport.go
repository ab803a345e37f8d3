// Package transport provides the transport layer implementations for the MCP protocol.
//
// This package contains the Transport interface and implementations for different
// communication methods. All variants share the same contract: framing and
// transport-specific options differ, but the router and lifecycle code above
// them is transport-agnostic.
package transport

import (
	"errors"
	"log/slog"
	"os"
	"sync"
)

// MessageHandler represents a function that handles incoming messages.
// The returned bytes, if non-nil, are sent back on the same connection.
type MessageHandler func(message []byte) ([]byte, error)

// ErrorHandler receives channel-level failures. A call does not imply the
// channel is closed.
type ErrorHandler func(err error)

// CloseHandler is invoked when the channel reaches a terminal closed state,
// whether peer-initiated or self-initiated. It fires at most once.
type CloseHandler func()

// ErrClosed is returned by Send when the transport has been stopped or the
// peer is unreachable.
var ErrClosed = errors.New("transport closed")

// Transport represents a communication transport for MCP messages.
type Transport interface {
	// Initialize prepares the transport before it is started.
	Initialize() error

	// Start establishes the channel and begins receiving messages.
	// Calling Start twice is undefined; the server lifecycle prevents it.
	Start() error

	// Stop releases channel resources. It is safe to call more than once;
	// subsequent calls are no-ops and the close handler fires at most once.
	Stop() error

	// Send sends a message over the transport. Messages sent by a single
	// caller are delivered in order. Send fails with ErrClosed (possibly
	// wrapped) once the channel is closed.
	Send(message []byte) error

	// SetMessageHandler sets the handler invoked once per inbound message,
	// in the order received.
	SetMessageHandler(handler MessageHandler)

	// SetErrorHandler sets the handler for channel-level failures.
	SetErrorHandler(handler ErrorHandler)

	// SetCloseHandler sets the handler invoked when the channel closes.
	SetCloseHandler(handler CloseHandler)

	// SetLogger sets the structured logger.
	SetLogger(logger *slog.Logger)

	// GetLogger returns the current logger.
	GetLogger() *slog.Logger
}

// BaseTransport provides the handler plumbing shared by all transport variants.
type BaseTransport struct {
	handler      MessageHandler
	errorHandler ErrorHandler
	closeHandler CloseHandler
	logger       *slog.Logger
	closeOnce    sync.Once
}

// SetMessageHandler sets the message handler.
func (t *BaseTransport) SetMessageHandler(handler MessageHandler) {
	t.handler = handler
}

// SetErrorHandler sets the error handler.
func (t *BaseTransport) SetErrorHandler(handler ErrorHandler) {
	t.errorHandler = handler
}

// SetCloseHandler sets the close handler.
func (t *BaseTransport) SetCloseHandler(handler CloseHandler) {
	t.closeHandler = handler
}

// SetLogger sets the structured logger.
func (t *BaseTransport) SetLogger(logger *slog.Logger) {
	t.logger = logger
}

// GetLogger returns the current logger, creating a default one if none is set.
func (t *BaseTransport) GetLogger() *slog.Logger {
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return t.logger
}

// HandleMessage dispatches an incoming message to the configured handler.
func (t *BaseTransport) HandleMessage(message []byte) ([]byte, error) {
	if t.handler == nil {
		return nil, errors.New("no message handler set")
	}
	return t.handler(message)
}

// ReportError forwards a channel-level failure to the error handler, if set,
// and logs it otherwise.
func (t *BaseTransport) ReportError(err error) {
	if t.errorHandler != nil {
		t.errorHandler(err)
		return
	}
	t.GetLogger().Error("transport error", "error", err)
}

// FireClose invokes the close handler. Regardless of how many times the
// transport's Stop is called, or whether the peer closed first, the handler
// runs at most once.
func (t *BaseTransport) FireClose() {
	t.closeOnce.Do(func() {
		if t.closeHandler != nil {
			t.closeHandler()
		}
	})
}
