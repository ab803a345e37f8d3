// Package embedded provides an in-process implementation of the MCP transport.
//
// The embedded transport connects a server and a client through paired
// channels with no network in between. It is the harness used by the server
// package's own tests and is suitable for embedding a server inside another
// process.
package embedded

import (
	"context"
	"sync"
	"time"

	"github.com/tidewater/gomcp/transport"
)

// Transport implements the transport.Transport interface for in-process use.
type Transport struct {
	transport.BaseTransport

	outbound chan []byte // messages this side sends
	inbound  chan []byte // messages this side receives

	done     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.RWMutex

	bufferSize int
	timeout    time.Duration
}

// Option configures the embedded transport.
type Option func(*Transport)

// WithBufferSize sets the buffer size for the message channels.
func WithBufferSize(size int) Option {
	return func(t *Transport) {
		t.bufferSize = size
	}
}

// WithTimeout sets the timeout applied to Send.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// NewTransportPair creates a connected pair of embedded transports.
// Messages sent on one side arrive on the other. The returned transports
// share a done channel: stopping either side closes both.
func NewTransportPair(options ...Option) (server, client *Transport) {
	aToB := make(chan []byte, 100)
	bToA := make(chan []byte, 100)
	done := make(chan struct{})

	server = &Transport{
		outbound:   aToB,
		inbound:    bToA,
		done:       done,
		bufferSize: 100,
		timeout:    30 * time.Second,
	}
	client = &Transport{
		outbound:   bToA,
		inbound:    aToB,
		done:       done,
		bufferSize: 100,
		timeout:    30 * time.Second,
	}

	for _, option := range options {
		option(server)
		option(client)
	}
	return server, client
}

// Initialize initializes the transport.
func (t *Transport) Initialize() error {
	return nil
}

// Start begins processing inbound messages.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	t.started = true
	go t.messageLoop()
	return nil
}

// Stop stops both sides of the pair. Safe to call more than once.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()

		select {
		case <-t.done:
		default:
			close(t.done)
		}
	})
	t.FireClose()
	return nil
}

// Send sends a message to the peer transport.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	msgCopy := append([]byte(nil), message...)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	select {
	case t.outbound <- msgCopy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return transport.ErrClosed
	}
}

// Receive takes the next message sent by the peer. It is how test clients
// read what the server produced.
func (t *Transport) Receive() ([]byte, error) {
	select {
	case message := <-t.inbound:
		return message, nil
	case <-t.done:
		return nil, transport.ErrClosed
	}
}

// ReceiveTimeout is like Receive but gives up after the supplied duration.
func (t *Transport) ReceiveTimeout(d time.Duration) ([]byte, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case message := <-t.inbound:
		return message, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-t.done:
		return nil, transport.ErrClosed
	}
}

// messageLoop dispatches inbound messages to the handler. Each message is
// handled on its own goroutine so overlapping calls can be in flight.
func (t *Transport) messageLoop() {
	for {
		select {
		case message := <-t.inbound:
			go func(msg []byte) {
				response, err := t.HandleMessage(msg)
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
			}(message)
		case <-t.done:
			// Peer or self initiated close; either way the session ends.
			_ = t.Stop()
			return
		}
	}
}
