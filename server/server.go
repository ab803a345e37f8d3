// Package server implements the MCP server core: a protocol router over a
// pluggable transport, a capability registry populated from loaders, and a
// lifecycle coordinator that ties a session's startup and teardown together.
package server

import (
	"log/slog"
	"os"
	"sync"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/mcp"
	"github.com/tidewater/gomcp/transport"
	"github.com/tidewater/gomcp/transport/embedded"
	"github.com/tidewater/gomcp/transport/mqtt"
	"github.com/tidewater/gomcp/transport/nats"
	"github.com/tidewater/gomcp/transport/sse"
	"github.com/tidewater/gomcp/transport/stdio"
	"github.com/tidewater/gomcp/transport/ws"
)

// Server is the fluent interface for configuring and running an MCP server.
// Registration and transport selection return the server so calls chain:
//
//	server.NewServer("calc").
//		Tool("add", "Add two numbers", addHandler).
//		AsStdio().
//		Run()
type Server interface {
	// Tool registers a tool with a typed handler function.
	Tool(name, description string, handler interface{}) Server

	// Prompt registers a prompt built from message templates.
	Prompt(name, description string, templates ...PromptTemplate) Server

	// Resource registers a resource or resource template with a typed
	// handler function.
	Resource(path, description string, handler interface{}) Server

	// AsStdio configures the server to serve over stdin/stdout.
	AsStdio() Server

	// AsSSE configures the server to serve over HTTP with SSE streaming.
	AsSSE(addr string, options ...sse.Option) Server

	// AsWS configures the server to serve over WebSocket.
	AsWS(addr string, options ...ws.Option) Server

	// AsNATS configures the server to serve over a NATS subject pair.
	AsNATS(serverURL string, options ...nats.Option) Server

	// AsMQTT configures the server to serve over MQTT topics.
	AsMQTT(brokerURL string, options ...mqtt.Option) Server

	// AsEmbedded configures the server with an in-process transport pair and
	// returns the client half for the caller to drive.
	AsEmbedded(options ...embedded.Option) (Server, *embedded.Transport)

	// Run starts serving and blocks until the session ends.
	Run() error

	// Shutdown stops the server. Safe to call from any goroutine and more
	// than once.
	Shutdown()

	// Logger returns the server's structured logger.
	Logger() *slog.Logger

	// Events returns the server's event subject.
	Events() *events.Subject

	// ListTools returns the names of the registered tools.
	ListTools() []string

	// ListPrompts returns the names of the registered prompts.
	ListPrompts() []string

	// ListResources returns the URIs of the registered resources.
	ListResources() []string

	// GetServer returns the underlying implementation for advanced use.
	GetServer() *serverImpl
}

// serverImpl is the concrete server. All mutable lifecycle state is guarded
// by mu; the registry and router are built during Run and read-only while
// serving.
type serverImpl struct {
	mu sync.Mutex

	name    string
	version string
	logger  *slog.Logger
	events  *events.Subject

	transport transport.Transport

	static          *staticLoader
	toolLoaders     []ToolLoader
	promptLoaders   []PromptLoader
	resourceLoaders []ResourceLoader

	registry     *registry
	capabilities Capabilities
	router       *router

	session *ClientSession

	forcedProtocolVersion string

	state       serverState
	done        chan struct{}
	shutdownCh  <-chan struct{}
	shutdownErr error

	pending [][]byte
}

// Option configures a server at construction.
type Option func(*serverImpl)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *serverImpl) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the server version reported during initialize.
func WithVersion(version string) Option {
	return func(s *serverImpl) {
		s.version = version
	}
}

// WithProtocolVersion pins the protocol version instead of negotiating.
func WithProtocolVersion(version string) Option {
	return func(s *serverImpl) {
		s.forcedProtocolVersion = version
	}
}

// WithShutdownSignal supplies a channel whose close triggers shutdown.
// The caller owns signal handling; wire os signals like this:
//
//	sigCh := make(chan os.Signal, 1)
//	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
//	shutdownCh := make(chan struct{})
//	go func() { <-sigCh; close(shutdownCh) }()
//	srv := server.NewServer("name", server.WithShutdownSignal(shutdownCh))
func WithShutdownSignal(ch <-chan struct{}) Option {
	return func(s *serverImpl) {
		s.shutdownCh = ch
	}
}

// WithToolLoader adds a tool loader consulted during startup.
func WithToolLoader(loader ToolLoader) Option {
	return func(s *serverImpl) {
		s.toolLoaders = append(s.toolLoaders, loader)
	}
}

// WithPromptLoader adds a prompt loader consulted during startup.
func WithPromptLoader(loader PromptLoader) Option {
	return func(s *serverImpl) {
		s.promptLoaders = append(s.promptLoaders, loader)
	}
}

// WithResourceLoader adds a resource loader consulted during startup.
func WithResourceLoader(loader ResourceLoader) Option {
	return func(s *serverImpl) {
		s.resourceLoaders = append(s.resourceLoaders, loader)
	}
}

// NewServer creates a server with the given name. Handlers registered
// through the fluent methods are served alongside any configured loaders.
func NewServer(name string, options ...Option) Server {
	s := &serverImpl{
		name:    name,
		version: "1.0.0",
		logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)),
		events:  events.NewSubject(),
		static:  newStaticLoader(),
		state:   stateIdle,
	}
	for _, opt := range options {
		opt(s)
	}

	// Fluent registrations land in the static loader, which startup
	// consults ahead of the configured loaders.
	s.toolLoaders = append([]ToolLoader{s.static}, s.toolLoaders...)
	s.promptLoaders = append([]PromptLoader{s.static}, s.promptLoaders...)
	s.resourceLoaders = append([]ResourceLoader{s.static}, s.resourceLoaders...)

	return s
}

func (s *serverImpl) AsStdio() Server {
	return s.setTransport(stdio.NewTransport())
}

func (s *serverImpl) AsSSE(addr string, options ...sse.Option) Server {
	return s.setTransport(sse.NewTransport(addr, options...))
}

func (s *serverImpl) AsWS(addr string, options ...ws.Option) Server {
	return s.setTransport(ws.NewTransport(addr, options...))
}

func (s *serverImpl) AsNATS(serverURL string, options ...nats.Option) Server {
	return s.setTransport(nats.NewTransport(serverURL, options...))
}

func (s *serverImpl) AsMQTT(brokerURL string, options ...mqtt.Option) Server {
	return s.setTransport(mqtt.NewTransport(brokerURL, options...))
}

func (s *serverImpl) AsEmbedded(options ...embedded.Option) (Server, *embedded.Transport) {
	serverSide, clientSide := embedded.NewTransportPair(options...)
	s.setTransport(serverSide)
	return s, clientSide
}

func (s *serverImpl) setTransport(t transport.Transport) Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
	return s
}

func (s *serverImpl) Logger() *slog.Logger {
	return s.logger
}

func (s *serverImpl) Events() *events.Subject {
	return s.events
}

func (s *serverImpl) ListTools() []string {
	handlers, _ := s.static.LoadTools()
	names := make([]string, 0, len(handlers))
	for _, h := range handlers {
		names = append(names, h.Name())
	}
	return names
}

func (s *serverImpl) ListPrompts() []string {
	handlers, _ := s.static.LoadPrompts()
	names := make([]string, 0, len(handlers))
	for _, h := range handlers {
		names = append(names, h.Name())
	}
	return names
}

func (s *serverImpl) ListResources() []string {
	handlers, _ := s.static.LoadResources()
	uris := make([]string, 0, len(handlers))
	for _, h := range handlers {
		uris = append(uris, h.URI())
	}
	return uris
}

func (s *serverImpl) GetServer() *serverImpl {
	return s
}

// currentSession returns the active session, nil before the handshake.
func (s *serverImpl) currentSession() *ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *serverImpl) setSession(session *ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// negotiatedVersion returns the active session's protocol version, falling
// back to the pinned or latest supported version.
func (s *serverImpl) negotiatedVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session.ProtocolVersion
	}
	if s.forcedProtocolVersion != "" {
		return s.forcedProtocolVersion
	}
	return mcp.LatestVersion()
}

// deliver sends bytes over the attached transport. The bool reports whether
// a transport was attached to send on; when it is false the caller keeps the
// bytes. The error is the Send failure, if any.
func (s *serverImpl) deliver(message []byte) (bool, error) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return false, nil
	}
	if err := t.Send(message); err != nil {
		s.logger.Error("failed to send message", "error", err)
		return true, err
	}
	return true, nil
}

// queueNotification marshals a notification and holds it for delivery after
// the response currently being processed.
func (s *serverImpl) queueNotification(method string, params interface{}) {
	data, err := mcp.NewNotification(method, params).Marshal()
	if err != nil {
		s.logger.Error("failed to marshal notification", "method", method, "error", err)
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, data)
	s.mu.Unlock()
}

// flushNotifications sends every queued notification in queue order. A send
// failure abandons the rest of the queue; the channel is dead.
func (s *serverImpl) flushNotifications() {
	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, data := range queued {
		if _, err := s.deliver(data); err != nil {
			return
		}
	}
}

// SendNotification sends a notification to the client immediately.
func (s *serverImpl) SendNotification(method string, params interface{}) error {
	data, err := mcp.NewNotification(method, params).Marshal()
	if err != nil {
		return err
	}
	delivered, err := s.deliver(data)
	if !delivered {
		return ErrNoTransport
	}
	return err
}

// staticLoader collects handlers registered through the fluent methods and
// serves them back through the loader interfaces during startup.
type staticLoader struct {
	mu        sync.Mutex
	tools     []ToolHandler
	prompts   []PromptHandler
	resources []ResourceHandler
}

func newStaticLoader() *staticLoader {
	return &staticLoader{}
}

func (l *staticLoader) addTool(h ToolHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tools = append(l.tools, h)
}

func (l *staticLoader) addPrompt(h PromptHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, h)
}

func (l *staticLoader) addResource(h ResourceHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources = append(l.resources, h)
}

func (l *staticLoader) LoadTools() ([]ToolHandler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ToolHandler(nil), l.tools...), nil
}

func (l *staticLoader) LoadPrompts() ([]PromptHandler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PromptHandler(nil), l.prompts...), nil
}

func (l *staticLoader) HasPrompts() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prompts) > 0, nil
}

func (l *staticLoader) LoadResources() ([]ResourceHandler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ResourceHandler(nil), l.resources...), nil
}

func (l *staticLoader) HasResources() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resources) > 0, nil
}
