// Package mqtt provides an MQTT implementation of the MCP transport.
//
// This package implements the Transport interface over an MQTT broker,
// suitable for IoT deployments and networks with intermittent connectivity.
// The server receives requests on {prefix}/requests/{clientID} and publishes
// outbound messages to {prefix}/responses/{clientID}.
package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tidewater/gomcp/transport"
)

// DefaultQoS is the default Quality of Service level (at least once).
const DefaultQoS = 1

// DefaultConnectTimeout bounds the initial connection to the broker.
const DefaultConnectTimeout = 10 * time.Second

// Default topic layout for MCP traffic.
const (
	DefaultTopicPrefix = "mcp"
	DefaultServerTopic = "requests"
	DefaultClientTopic = "responses"
)

// Option represents a configuration option for the MQTT transport.
type Option func(*Transport)

// WithQoS sets the Quality of Service level for MQTT messages.
func WithQoS(qos byte) Option {
	return func(t *Transport) {
		t.qos = qos
	}
}

// WithCredentials sets the username and password used to authenticate.
func WithCredentials(username, password string) Option {
	return func(t *Transport) {
		t.username = username
		t.password = password
	}
}

// WithTopicPrefix sets the topic prefix for MCP messages.
func WithTopicPrefix(prefix string) Option {
	return func(t *Transport) {
		t.topicPrefix = prefix
	}
}

// WithClientID sets the MQTT client identifier.
func WithClientID(id string) Option {
	return func(t *Transport) {
		t.clientID = id
	}
}

// Transport implements the transport.Transport interface for MQTT.
type Transport struct {
	transport.BaseTransport
	brokerURL   string
	clientID    string
	username    string
	password    string
	topicPrefix string
	qos         byte

	client    paho.Client
	connected bool
	connMu    sync.RWMutex

	stopOnce sync.Once
	done     chan struct{}
}

// NewTransport creates a new MQTT transport for the given broker URL.
func NewTransport(brokerURL string, options ...Option) *Transport {
	t := &Transport{
		brokerURL:   brokerURL,
		topicPrefix: DefaultTopicPrefix,
		qos:         DefaultQoS,
		done:        make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	if t.clientID == "" {
		t.clientID = fmt.Sprintf("mcp-server-%d", time.Now().UnixNano())
	}
	return t
}

// requestTopic returns the wildcard topic the server receives requests on.
func (t *Transport) requestTopic() string {
	return fmt.Sprintf("%s/%s/+", t.topicPrefix, DefaultServerTopic)
}

// responseTopic returns the topic for messages bound for the given client.
func (t *Transport) responseTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/%s", t.topicPrefix, DefaultClientTopic, clientID)
}

// clientIDFromTopic extracts the trailing client ID segment from a request
// topic, or "" when the topic does not match the expected layout.
func (t *Transport) clientIDFromTopic(topic string) string {
	prefix := fmt.Sprintf("%s/%s/", t.topicPrefix, DefaultServerTopic)
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	id := strings.TrimPrefix(topic, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Initialize creates the MQTT client.
func (t *Transport) Initialize() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(t.brokerURL)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(DefaultConnectTimeout)

	if t.username != "" {
		opts.SetUsername(t.username)
		opts.SetPassword(t.password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.setConnected(false)
		// Auto-reconnect is on; the loss is not terminal.
		t.ReportError(fmt.Errorf("mqtt transport connection lost: %w", err))
	})

	opts.SetOnConnectHandler(func(client paho.Client) {
		t.setConnected(true)
		if token := client.Subscribe(t.requestTopic(), t.qos, t.onMessage); token.Wait() && token.Error() != nil {
			t.ReportError(fmt.Errorf("mqtt transport resubscribe: %w", token.Error()))
		}
	})

	t.client = paho.NewClient(opts)
	return nil
}

// Start connects to the broker. Subscription happens in the OnConnect
// handler so it is reestablished after reconnects.
func (t *Transport) Start() error {
	if t.client == nil {
		return fmt.Errorf("mqtt transport not initialized")
	}
	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt transport connect: %w", token.Error())
	}
	t.GetLogger().Debug("mqtt transport started",
		"broker", t.brokerURL,
		"topic", t.requestTopic())
	return nil
}

// Stop disconnects from the broker. Safe to call more than once.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.done)
		t.setConnected(false)
		if t.client != nil && t.client.IsConnected() {
			t.client.Disconnect(250)
		}
	})
	t.FireClose()
	return nil
}

// Send broadcasts a message to all clients' response topics.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}
	if !t.isConnected() {
		return fmt.Errorf("mqtt transport: %w", transport.ErrClosed)
	}

	token := t.client.Publish(t.responseTopic("all"), t.qos, false, message)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt transport publish: %w", token.Error())
	}
	return nil
}

// onMessage processes an incoming request. The response is routed back to
// the originating client's topic when the topic carries a client ID.
func (t *Transport) onMessage(_ paho.Client, msg paho.Message) {
	go func() {
		response, err := t.HandleMessage(msg.Payload())
		if err != nil {
			t.ReportError(err)
			return
		}
		if response == nil {
			return
		}

		clientID := t.clientIDFromTopic(msg.Topic())
		if clientID == "" {
			clientID = "all"
		}
		token := t.client.Publish(t.responseTopic(clientID), t.qos, false, response)
		if token.Wait() && token.Error() != nil {
			t.ReportError(fmt.Errorf("mqtt transport publish: %w", token.Error()))
		}
	}()
}

func (t *Transport) setConnected(v bool) {
	t.connMu.Lock()
	t.connected = v
	t.connMu.Unlock()
}

func (t *Transport) isConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}
