package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/gomcp/mcp"
)

func TestNewClientSession(t *testing.T) {
	info := mcp.Implementation{Name: "test-client", Version: "2.1"}

	before := time.Now()
	session := newClientSession(info, "2025-03-26")

	require.NotNil(t, session)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, info, session.ClientInfo)
	assert.Equal(t, "2025-03-26", session.ProtocolVersion)
	assert.False(t, session.Created.Before(before))
}

func TestSessionIDsAreUnique(t *testing.T) {
	info := mcp.Implementation{Name: "c"}
	a := newClientSession(info, "2025-03-26")
	b := newClientSession(info, "2025-03-26")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSessionLifecycleThroughServer(t *testing.T) {
	client, stop := startServer(t, newTestServer())

	resp := rpc(t, client, 1, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]interface{}{"name": "client", "version": "1"},
	})
	result(t, resp)

	require.NoError(t, stop())
}
