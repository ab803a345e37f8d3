package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/mcp"
)

// methodHandler processes one dispatched request and returns its result.
type methodHandler func(ctx *Context) (interface{}, error)

// router binds inbound messages to capability handlers. The dispatch table
// is built once at construction from the session's immutable capabilities;
// methods for absent capabilities are simply not registered.
type router struct {
	server   *serverImpl
	caps     Capabilities
	handlers map[string]methodHandler
}

func newRouter(s *serverImpl, caps Capabilities) *router {
	r := &router{server: s, caps: caps}

	r.handlers = map[string]methodHandler{
		"initialize": r.processInitialize,
		"ping":       processPing,
		"tools/list": s.processToolList,
		"tools/call": s.processToolCall,
	}
	if caps.Prompts {
		r.handlers["prompts/list"] = s.processPromptList
		r.handlers["prompts/get"] = s.processPromptGet
	}
	if caps.Resources {
		r.handlers["resources/list"] = s.processResourceList
		r.handlers["resources/read"] = s.processResourceRead
		r.handlers["resources/subscribe"] = s.processResourceSubscribe
		r.handlers["resources/unsubscribe"] = s.processResourceUnsubscribe
	}
	return r
}

// handleMessage is the transport's message handler. It parses the inbound
// bytes into the message union and routes by kind. The returned bytes, if
// any, are the response the transport should send.
func (r *router) handleMessage(message []byte) ([]byte, error) {
	msg, err := mcp.ParseMessage(message)
	if err != nil {
		r.server.logger.Error("failed to parse message", "error", err)
		return errorResponse(nil, mcp.CodeParseError, "Parse error", mcp.ErrorTypeProtocol, err.Error())
	}

	switch msg.Kind {
	case mcp.KindNotification:
		r.handleNotification(msg)
		return nil, nil
	case mcp.KindResponse:
		// This server issues no client-bound requests, so inbound responses
		// have nothing to correlate with.
		r.server.logger.Debug("ignoring unexpected response message", "id", msg.ID)
		return nil, nil
	}

	response, err := r.handleRequest(msg)
	if response == nil || err != nil {
		return response, err
	}

	// When a transport is attached, deliver the response here so that any
	// notifications the handler queued (server/ready after initialize) go
	// out strictly after it on the same connection.
	if delivered, err := r.server.deliver(response); delivered {
		if err == nil {
			r.server.flushNotifications()
		}
		return nil, nil
	}
	return response, nil
}

// handleRequest dispatches a request through the method table and converts
// the outcome to a wire response. Every id-carrying request yields either a
// result or an error response; a raw failure never escapes the router.
func (r *router) handleRequest(msg *mcp.Message) ([]byte, error) {
	handler, ok := r.handlers[msg.Method]
	if !ok {
		r.server.logger.Warn("method not found", "method", msg.Method)
		r.publishRequestFailed(msg.Method, "method not found")
		return errorResponse(msg.ID, mcp.CodeMethodNotFound, "Method not found",
			mcp.ErrorTypeMethodNotFound, fmt.Sprintf("method %q is not supported by this server", msg.Method))
	}

	ctx := &Context{
		ctx:     context.Background(),
		Request: msg,
		Session: r.server.currentSession(),
		server:  r.server,
	}

	result, err := handler(ctx)
	if err != nil {
		r.server.logger.Error("request failed", "method", msg.Method, "error", err)
		r.publishRequestFailed(msg.Method, err.Error())

		switch e := err.(type) {
		case *protocolError:
			return errorResponse(msg.ID, e.code, e.message, mcp.ErrorTypeProtocol, e.detail)
		case *handlerError:
			return errorResponse(msg.ID, mcp.CodeInternalError, e.Error(), mcp.ErrorTypeHandler, "")
		default:
			return errorResponse(msg.ID, mcp.CodeInternalError, "Internal error", mcp.ErrorTypeHandler, err.Error())
		}
	}

	response, err := mcp.NewResponse(msg.ID, result).Marshal()
	if err != nil {
		r.server.logger.Error("failed to marshal response", "method", msg.Method, "error", err)
		return errorResponse(msg.ID, mcp.CodeInternalError, "Internal error", mcp.ErrorTypeProtocol, "failed to marshal response")
	}
	return response, nil
}

// handleNotification processes an inbound notification. Notifications have
// no id, so there is nothing to respond to: unrecognized methods are logged
// and dropped.
func (r *router) handleNotification(msg *mcp.Message) {
	switch msg.Method {
	case "notifications/initialized":
		r.server.markInitialized()
	case "notifications/cancelled", "notifications/progress", "notifications/roots/list_changed":
		// Recognized but carrying no behavior in this server.
	default:
		r.server.logger.Debug("ignoring unrecognized notification", "method", msg.Method)
	}
}

// publishRequestFailed emits the request failure event.
func (r *router) publishRequestFailed(method, detail string) {
	_ = events.Publish[events.RequestFailedEvent](r.server.events, events.TopicRequestFailed, events.RequestFailedEvent{
		Method: method,
		Error:  detail,
	})
}

// errorResponse builds a serialized JSON-RPC error response with the
// structured data.type tag.
func errorResponse(id interface{}, code int, message, errType, detail string) ([]byte, error) {
	resp := mcp.NewErrorResponse(id, code, message, &mcp.ErrorData{Type: errType, Detail: detail})
	return resp.Marshal()
}

// processPing implements the ping method, which returns an empty object.
func processPing(_ *Context) (interface{}, error) {
	return map[string]interface{}{}, nil
}

// initializeParams are the typed parameters of the initialize request.
type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

// initializeResult is the typed result of the initialize handshake.
type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      mcp.Implementation     `json:"serverInfo"`
}

// processInitialize performs the handshake: version negotiation, session
// creation, and the capabilities/identity response. The server/ready
// notification is sent immediately after the response, in program order on
// the same connection; the transport's ordered Send guarantees the client
// observes the response first.
func (r *router) processInitialize(ctx *Context) (interface{}, error) {
	s := r.server

	var params initializeParams
	if ctx.Request.Params != nil {
		if err := json.Unmarshal(ctx.Request.Params, &params); err != nil {
			return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
		}
	}

	protocolVersion := mcp.NegotiateVersion(params.ProtocolVersion)
	if s.forcedProtocolVersion != "" {
		protocolVersion = s.forcedProtocolVersion
	}

	session := newClientSession(params.ClientInfo, protocolVersion)
	s.setSession(session)

	s.logger.Info("client connected",
		"sessionID", session.ID,
		"client", params.ClientInfo.Name,
		"protocolVersion", protocolVersion)

	_ = events.Publish[events.ClientConnectedEvent](s.events, events.TopicClientConnected, events.ClientConnectedEvent{
		SessionID:       session.ID,
		ProtocolVersion: protocolVersion,
		ConnectedAt:     session.Created,
		ClientInfo: events.ClientInfo{
			Name:    params.ClientInfo.Name,
			Version: params.ClientInfo.Version,
		},
	})

	s.queueNotification("server/ready", map[string]interface{}{})

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    r.caps.wire(),
		ServerInfo: mcp.Implementation{
			Name:    s.name,
			Version: s.version,
		},
	}, nil
}

// markInitialized publishes the server initialized event once the client
// reports the end of its initialization phase.
func (s *serverImpl) markInitialized() {
	s.mu.Lock()
	reg := s.registry
	s.mu.Unlock()

	s.logger.Debug("client initialized")

	evt := events.ServerInitializedEvent{
		ServerName:      s.name,
		ProtocolVersion: s.negotiatedVersion(),
		InitializedAt:   time.Now(),
	}
	if reg != nil {
		evt.ToolCount = len(reg.tools)
		evt.PromptCount = len(reg.prompts)
		evt.ResourceCount = len(reg.resources)
	}
	_ = events.Publish[events.ServerInitializedEvent](s.events, events.TopicServerInitialized, evt)
}
