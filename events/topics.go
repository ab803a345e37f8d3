package events

import "time"

// Standard topic constants for server events.
// These define the public API contract for what topics external consumers
// can subscribe to.
const (
	// Server lifecycle events
	TopicServerInitialized = "server.initialized"
	TopicServerShutdown    = "server.shutdown"

	// Connection events
	TopicClientConnected    = "client.connected"
	TopicClientDisconnected = "client.disconnected"

	// Registration events
	TopicToolRegistered     = "tool.registered"
	TopicPromptRegistered   = "prompt.registered"
	TopicResourceRegistered = "resource.registered"

	// Operation events
	TopicToolExecuted     = "tool.executed"
	TopicResourceAccessed = "resource.accessed"
	TopicPromptExecuted   = "prompt.executed"

	// Error events
	TopicRequestFailed = "request.failed"
)

// ClientInfo identifies a connected client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInitializedEvent is emitted when the server has started and is ready
// to accept requests.
type ServerInitializedEvent struct {
	ServerName      string    `json:"serverName"`
	ProtocolVersion string    `json:"protocolVersion"`
	InitializedAt   time.Time `json:"initializedAt"`
	ToolCount       int       `json:"toolCount"`
	PromptCount     int       `json:"promptCount"`
	ResourceCount   int       `json:"resourceCount"`
}

// ServerShutdownEvent is emitted when the server is shutting down.
type ServerShutdownEvent struct {
	ServerName   string    `json:"serverName"`
	ShutdownAt   time.Time `json:"shutdownAt"`
	GracefulExit bool      `json:"gracefulExit"`
	Reason       string    `json:"reason,omitempty"`
}

// ClientConnectedEvent is emitted when a client completes the initialize
// handshake.
type ClientConnectedEvent struct {
	SessionID       string     `json:"sessionId"`
	ProtocolVersion string     `json:"protocolVersion"`
	ConnectedAt     time.Time  `json:"connectedAt"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientDisconnectedEvent is emitted when a session ends.
type ClientDisconnectedEvent struct {
	SessionID      string    `json:"sessionId"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

// ToolRegisteredEvent is emitted when a tool is registered with the server.
type ToolRegisteredEvent struct {
	ToolName     string                 `json:"toolName"`
	Description  string                 `json:"description"`
	RegisteredAt time.Time              `json:"registeredAt"`
	Schema       map[string]interface{} `json:"schema,omitempty"`
}

// PromptRegisteredEvent is emitted when a prompt is registered with the server.
type PromptRegisteredEvent struct {
	PromptName   string    `json:"promptName"`
	Description  string    `json:"description"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ResourceRegisteredEvent is emitted when a resource is registered with the server.
type ResourceRegisteredEvent struct {
	URI          string    `json:"uri"`
	Description  string    `json:"description"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ToolExecutedEvent is emitted after a tools/call completes, whether the
// handler succeeded or not.
type ToolExecutedEvent struct {
	ToolName   string        `json:"toolName"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	ExecutedAt time.Time     `json:"executedAt"`
}

// PromptExecutedEvent is emitted after a prompts/get completes successfully.
type PromptExecutedEvent struct {
	PromptName string    `json:"promptName"`
	ExecutedAt time.Time `json:"executedAt"`
}

// ResourceAccessedEvent is emitted after a resources/read completes
// successfully.
type ResourceAccessedEvent struct {
	URI        string    `json:"uri"`
	AccessedAt time.Time `json:"accessedAt"`
}

// RequestFailedEvent is emitted when a request fails at the dispatch boundary.
type RequestFailedEvent struct {
	Method string `json:"method"`
	Error  string `json:"error"`
}
