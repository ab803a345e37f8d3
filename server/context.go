package server

import (
	"context"
	"log/slog"

	"github.com/tidewater/gomcp/mcp"
)

// Context carries one inbound request through dispatch to a capability
// handler.
type Context struct {
	ctx context.Context

	// Request is the parsed inbound message.
	Request *mcp.Message

	// Session is the active client session, nil before the initialize
	// handshake completes.
	Session *ClientSession

	// PathParams holds URI template parameters matched during resource
	// lookup. Empty for non-template resources and non-resource methods.
	PathParams map[string]string

	server *serverImpl
}

// Context returns the underlying context.Context.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Logger returns the server's structured logger.
func (c *Context) Logger() *slog.Logger {
	return c.server.logger
}
