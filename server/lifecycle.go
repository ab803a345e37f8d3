package server

import (
	"time"

	"github.com/tidewater/gomcp/events"
)

// serverState is the lifecycle state of a server instance.
type serverState int

const (
	stateIdle serverState = iota
	stateRunning
	stateShuttingDown
	stateStopped
)

func (s serverState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateShuttingDown:
		return "shutting down"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s *serverImpl) stateIs(state serverState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == state
}

// Run starts the server and blocks until the session ends. The start
// sequence is: populate the registry from the loaders, detect capabilities,
// build the router, then wire and start the transport. A failure at any
// stage aborts startup with a StartupError and leaves nothing running.
//
// The session ends when Shutdown is called, the shutdown signal channel
// closes, or the transport closes (client disconnect).
func (s *serverImpl) Run() error {
	s.mu.Lock()
	if s.state == stateRunning || s.state == stateShuttingDown {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	t := s.transport
	if t == nil {
		s.mu.Unlock()
		return ErrNoTransport
	}
	s.state = stateRunning
	s.done = make(chan struct{})
	s.shutdownErr = nil
	done := s.done
	s.mu.Unlock()

	fail := func(stage string, err error) error {
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
		return &StartupError{Stage: stage, Err: err}
	}

	reg := newRegistry()
	if err := reg.populate(s.logger, s.toolLoaders, s.promptLoaders, s.resourceLoaders); err != nil {
		return fail("registry", err)
	}

	caps, err := s.detectCapabilities()
	if err != nil {
		return fail("capabilities", err)
	}

	s.mu.Lock()
	s.registry = reg
	s.capabilities = caps
	s.mu.Unlock()

	r := newRouter(s, caps)
	s.mu.Lock()
	s.router = r
	s.mu.Unlock()

	t.SetLogger(s.logger)
	t.SetMessageHandler(r.handleMessage)
	t.SetErrorHandler(func(err error) {
		s.logger.Error("transport error", "error", err)
	})
	t.SetCloseHandler(func() {
		s.logger.Info("transport closed")
		s.Shutdown()
	})

	if err := t.Initialize(); err != nil {
		return fail("transport", err)
	}
	if err := t.Start(); err != nil {
		return fail("transport", err)
	}

	s.logger.Info("server started",
		"name", s.name,
		"version", s.version,
		"tools", len(reg.tools),
		"prompts", len(reg.prompts),
		"resources", len(reg.resources))

	if s.shutdownCh != nil {
		go func() {
			select {
			case <-s.shutdownCh:
				s.logger.Info("shutdown signal received")
				s.Shutdown()
			case <-done:
			}
		}()
	}

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownErr
}

// Shutdown stops a running server: the transport is stopped, the session
// and router are released, and Run unblocks, returning the transport stop
// error if there was one. It is idempotent and safe to call from any
// goroutine, including the transport's close handler.
func (s *serverImpl) Shutdown() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateShuttingDown
	t := s.transport
	done := s.done
	session := s.session
	s.mu.Unlock()

	s.logger.Info("server shutting down", "name", s.name)

	_ = events.Publish[events.ServerShutdownEvent](s.events, events.TopicServerShutdown, events.ServerShutdownEvent{
		ServerName:   s.name,
		ShutdownAt:   time.Now(),
		GracefulExit: true,
	})
	if session != nil {
		_ = events.Publish[events.ClientDisconnectedEvent](s.events, events.TopicClientDisconnected, events.ClientDisconnectedEvent{
			SessionID:      session.ID,
			DisconnectedAt: time.Now(),
		})
	}

	// Stopping the transport fires its close handler, which re-enters
	// Shutdown and returns immediately on the state check above.
	var stopErr error
	if t != nil {
		if stopErr = t.Stop(); stopErr != nil {
			s.logger.Error("error stopping transport", "error", stopErr)
		}
	}

	s.mu.Lock()
	s.session = nil
	s.router = nil
	s.pending = nil
	s.shutdownErr = stopErr
	s.state = stateStopped
	s.mu.Unlock()

	s.logger.Info("server stopped", "name", s.name)
	close(done)
}
