// Package nats provides a NATS implementation of the MCP transport.
//
// This package implements the Transport interface over NATS subjects,
// suitable for microservice architectures and event-driven deployments.
// The server listens on a request subject and publishes outbound messages
// to a response subject under a configurable prefix.
package nats

import (
	"fmt"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/tidewater/gomcp/transport"
)

// Default subject layout for MCP traffic.
const (
	DefaultSubjectPrefix = "mcp"
	DefaultServerSubject = "requests"
	DefaultClientSubject = "responses"
)

// DefaultConnectTimeout bounds the initial connection to the NATS server.
const DefaultConnectTimeout = 10 * time.Second

// Option configures the NATS transport.
type Option func(*Transport)

// WithCredentials sets the username and password used to authenticate.
func WithCredentials(username, password string) Option {
	return func(t *Transport) {
		t.username = username
		t.password = password
	}
}

// WithSubjectPrefix sets the subject prefix for MCP messages.
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) {
		t.subjectPrefix = prefix
	}
}

// WithClientID sets the connection name reported to the NATS server.
func WithClientID(id string) Option {
	return func(t *Transport) {
		t.clientID = id
	}
}

// Transport implements the transport.Transport interface for NATS.
type Transport struct {
	transport.BaseTransport
	serverURL     string
	clientID      string
	username      string
	password      string
	subjectPrefix string

	conn *natsio.Conn
	sub  *natsio.Subscription

	stopOnce sync.Once
	done     chan struct{}
}

// NewTransport creates a new NATS transport for the given server URL.
func NewTransport(serverURL string, options ...Option) *Transport {
	t := &Transport{
		serverURL:     serverURL,
		subjectPrefix: DefaultSubjectPrefix,
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// requestSubject returns the subject the server receives messages on.
func (t *Transport) requestSubject() string {
	return t.subjectPrefix + "." + DefaultServerSubject
}

// responseSubject returns the subject the server publishes messages to.
func (t *Transport) responseSubject() string {
	return t.subjectPrefix + "." + DefaultClientSubject
}

// Initialize connects to the NATS server.
func (t *Transport) Initialize() error {
	opts := []natsio.Option{
		natsio.Timeout(DefaultConnectTimeout),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				t.ReportError(fmt.Errorf("nats transport disconnected: %w", err))
			}
		}),
		natsio.ClosedHandler(func(_ *natsio.Conn) {
			// Terminal: reconnect attempts exhausted or explicit close.
			_ = t.Stop()
		}),
	}
	if t.clientID != "" {
		opts = append(opts, natsio.Name(t.clientID))
	}
	if t.username != "" {
		opts = append(opts, natsio.UserInfo(t.username, t.password))
	}

	conn, err := natsio.Connect(t.serverURL, opts...)
	if err != nil {
		return fmt.Errorf("nats transport connect: %w", err)
	}
	t.conn = conn
	return nil
}

// Start subscribes to the request subject.
func (t *Transport) Start() error {
	if t.conn == nil {
		return fmt.Errorf("nats transport not initialized")
	}

	sub, err := t.conn.Subscribe(t.requestSubject(), func(m *natsio.Msg) {
		go t.dispatch(m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats transport subscribe: %w", err)
	}
	t.sub = sub

	t.GetLogger().Debug("nats transport started",
		"url", t.serverURL,
		"subject", t.requestSubject())
	return nil
}

// Stop unsubscribes and closes the connection. Safe to call more than once.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.sub != nil {
			_ = t.sub.Unsubscribe()
		}
		if t.conn != nil && !t.conn.IsClosed() {
			if err := t.conn.Drain(); err != nil {
				t.conn.Close()
			}
		}
	})
	t.FireClose()
	return nil
}

// Send publishes a message to the response subject.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}
	if t.conn == nil || t.conn.IsClosed() {
		return transport.ErrClosed
	}
	if err := t.conn.Publish(t.responseSubject(), message); err != nil {
		return fmt.Errorf("nats transport publish: %w", err)
	}
	return nil
}

// dispatch runs the message handler and publishes its response, if any.
func (t *Transport) dispatch(message []byte) {
	response, err := t.HandleMessage(message)
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
}
