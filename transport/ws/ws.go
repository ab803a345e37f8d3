// Package ws provides a WebSocket implementation of the MCP transport.
//
// This package implements the Transport interface over WebSocket framing,
// suitable for browser-based clients and long-lived bidirectional channels.
package ws

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tidewater/gomcp/transport"
)

// DefaultPath is the default WebSocket endpoint path.
const DefaultPath = "/"

// Option configures the WebSocket transport.
type Option func(*Transport)

// WithPath sets the WebSocket endpoint path.
func WithPath(path string) Option {
	return func(t *Transport) {
		t.path = path
	}
}

// Transport implements the transport.Transport interface for WebSocket.
type Transport struct {
	transport.BaseTransport
	addr     string
	path     string
	server   *http.Server
	listener net.Listener

	conns   map[*wsConn]struct{}
	connsMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// wsConn wraps a WebSocket connection with a write lock so concurrent
// handler goroutines cannot interleave frames.
type wsConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, ws.OpText, message)
}

// NewTransport creates a new WebSocket transport listening on addr.
func NewTransport(addr string, options ...Option) *Transport {
	t := &Transport{
		addr:  addr,
		path:  DefaultPath,
		conns: make(map[*wsConn]struct{}),
		done:  make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Addr returns the address the transport is listening on.
func (t *Transport) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Initialize binds the listen socket.
func (t *Transport) Initialize() error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("ws transport listen: %w", err)
	}
	t.listener = ln
	return nil
}

// Start starts the HTTP server and begins accepting WebSocket upgrades.
func (t *Transport) Start() error {
	if t.listener == nil {
		if err := t.Initialize(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handleUpgrade)

	t.server = &http.Server{Handler: mux}

	go func() {
		if err := t.server.Serve(t.listener); err != nil && err != http.ErrServerClosed {
			t.ReportError(err)
			_ = t.Stop()
		}
	}()

	return nil
}

// Stop closes all connections and shuts down the server. Safe to call more
// than once.
func (t *Transport) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.done)

		t.connsMu.Lock()
		for c := range t.conns {
			_ = c.conn.Close()
		}
		t.conns = make(map[*wsConn]struct{})
		t.connsMu.Unlock()

		if t.server != nil {
			err = t.server.Close()
		}
	})
	t.FireClose()
	return err
}

// Send writes a message to every connected client.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	t.connsMu.Lock()
	conns := make([]*wsConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.connsMu.Unlock()

	for _, c := range conns {
		if err := c.write(message); err != nil {
			t.ReportError(fmt.Errorf("ws transport write: %w", err))
		}
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and
// starts its read loop.
func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		t.ReportError(fmt.Errorf("ws transport upgrade: %w", err))
		return
	}

	c := &wsConn{conn: conn}
	t.connsMu.Lock()
	t.conns[c] = struct{}{}
	t.connsMu.Unlock()

	go t.readLoop(c)
}

// readLoop reads frames from one connection and dispatches them.
func (t *Transport) readLoop(c *wsConn) {
	defer func() {
		_ = c.conn.Close()
		t.connsMu.Lock()
		delete(t.conns, c)
		t.connsMu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		message, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			if err != io.EOF {
				select {
				case <-t.done:
				default:
					t.ReportError(err)
				}
			}
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		go func(msg []byte) {
			response, err := t.HandleMessage(msg)
			if err != nil {
				t.ReportError(err)
				return
			}
			if response == nil {
				return
			}
			if err := c.write(response); err != nil {
				t.ReportError(err)
			}
		}(message)
	}
}

// SetReadDeadline applies a read deadline to new reads on all connections.
// Primarily useful in tests.
func (t *Transport) SetReadDeadline(deadline time.Time) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for c := range t.conns {
		_ = c.conn.SetReadDeadline(deadline)
	}
}
