package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/tidewater/gomcp/mcp"
)

// ClientSession tracks the single logical client session served by a running
// server instance. It is created during the initialize handshake and
// released at shutdown.
type ClientSession struct {
	// ID uniquely identifies the session.
	ID string

	// ClientInfo is the identity the client reported during initialize.
	ClientInfo mcp.Implementation

	// ProtocolVersion is the protocol version negotiated for this session.
	ProtocolVersion string

	// Created is when the session was established.
	Created time.Time
}

func newClientSession(info mcp.Implementation, protocolVersion string) *ClientSession {
	return &ClientSession{
		ID:              uuid.NewString(),
		ClientInfo:      info,
		ProtocolVersion: protocolVersion,
		Created:         time.Now(),
	}
}
