// Package sse provides a Server-Sent Events implementation of the MCP transport.
//
// The transport exposes a single HTTP endpoint: GET requests open the SSE
// event stream carrying all server-to-client messages, and POST requests
// deliver client-to-server messages. Responses to client requests are pushed
// over the event stream, preserving the order the server produced them in.
package sse

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidewater/gomcp/transport"
)

// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// DefaultMCPEndpoint is the default MCP endpoint path.
const DefaultMCPEndpoint = "/mcp"

// Option is a function that configures a Transport.
type Option func(*Transport)

// WithPathPrefix sets a prefix for the endpoint path, e.g. "/api".
func WithPathPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		t.pathPrefix = prefix
	}
}

// WithMCPEndpoint sets the MCP endpoint path.
func WithMCPEndpoint(path string) Option {
	return func(t *Transport) {
		t.mcpEndpoint = path
	}
}

// WithAuthToken requires clients to present the given bearer token on every
// request. An empty token disables authentication.
func WithAuthToken(token string) Option {
	return func(t *Transport) {
		t.authToken = token
	}
}

// Transport implements the transport.Transport interface for SSE.
type Transport struct {
	transport.BaseTransport
	addr        string
	server      *http.Server
	listener    net.Listener
	pathPrefix  string
	mcpEndpoint string
	authToken   string

	clients   map[string]chan []byte
	clientsMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewTransport creates a new SSE transport listening on addr.
func NewTransport(addr string, options ...Option) *Transport {
	t := &Transport{
		addr:        addr,
		mcpEndpoint: DefaultMCPEndpoint,
		clients:     make(map[string]chan []byte),
		done:        make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// endpointPath returns the complete path for the MCP endpoint.
func (t *Transport) endpointPath() string {
	return t.pathPrefix + t.mcpEndpoint
}

// Addr returns the address the transport is listening on. Useful when the
// configured address has port 0.
func (t *Transport) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Initialize binds the listen socket so address errors surface before Start.
func (t *Transport) Initialize() error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("sse transport listen: %w", err)
	}
	t.listener = ln
	return nil
}

// Start starts the HTTP server.
func (t *Transport) Start() error {
	if t.listener == nil {
		if err := t.Initialize(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.endpointPath(), t.handleMCPRequest)

	t.server = &http.Server{Handler: mux}

	go func() {
		if err := t.server.Serve(t.listener); err != nil && err != http.ErrServerClosed {
			t.ReportError(err)
			_ = t.Stop()
		}
	}()

	return nil
}

// Stop shuts down the HTTP server and disconnects all clients.
// Safe to call more than once.
func (t *Transport) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.done)

		t.clientsMu.Lock()
		for _, ch := range t.clients {
			close(ch)
		}
		t.clients = make(map[string]chan []byte)
		t.clientsMu.Unlock()

		if t.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
			err = t.server.Shutdown(ctx)
		}
	})
	t.FireClose()
	return err
}

// Send queues a message for every connected event stream.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	t.clientsMu.Lock()
	defer t.clientsMu.Unlock()

	for id, ch := range t.clients {
		select {
		case ch <- append([]byte(nil), message...):
		default:
			// Slow client; drop the message rather than stall the session.
			t.GetLogger().Warn("sse transport: client channel full, dropping message", "client", id)
		}
	}
	return nil
}

// authorize validates the bearer token when auth is configured.
func (t *Transport) authorize(r *http.Request) bool {
	if t.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == t.authToken
}

// handleMCPRequest serves the unified MCP endpoint.
func (t *Transport) handleMCPRequest(w http.ResponseWriter, r *http.Request) {
	if !t.authorize(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		t.handleEventStream(w, r)
	case http.MethodPost:
		t.handleClientMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEventStream opens the server-to-client SSE stream.
func (t *Transport) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientID := uuid.NewString()
	ch := make(chan []byte, 100)

	t.clientsMu.Lock()
	t.clients[clientID] = ch
	t.clientsMu.Unlock()

	defer func() {
		t.clientsMu.Lock()
		delete(t.clients, clientID)
		t.clientsMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", clientID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t.GetLogger().Debug("sse transport: client connected", "client", clientID)

	eventID := 0
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			eventID++
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", eventID, msg)
			flusher.Flush()
		case <-r.Context().Done():
			t.GetLogger().Debug("sse transport: client disconnected", "client", clientID)
			return
		case <-t.done:
			return
		}
	}
}

// handleClientMessage accepts an inbound message via POST. The message is
// dispatched off the request goroutine and any response is pushed over the
// event stream, so the POST returns 202 immediately.
func (t *Transport) handleClientMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	go func() {
		response, err := t.HandleMessage(body)
		if err != nil {
			t.ReportError(err)
			return
		}
		if response == nil {
			return
		}
		if err := t.Send(response); err != nil {
			t.ReportError(err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
