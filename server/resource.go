package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/mcp"
)

// Resource registers a resource with the server. The path may contain
// template parameters in {braces}; matched values are bound to the
// handler's argument struct by `path` tags. The handler must have the
// signature
//
//	func(ctx *Context, args T) (interface{}, error)
//
// where T is a struct, a pointer to struct, or map[string]interface{}.
func (s *serverImpl) Resource(path, description string, handler interface{}) Server {
	rh, err := newFuncResourceHandler(path, description, handler)
	if err != nil {
		s.logger.Error("invalid resource handler", "uri", path, "error", err)
		return s
	}
	s.static.addResource(rh)
	s.logger.Debug("registered resource", "uri", path)

	_ = events.Publish[events.ResourceRegisteredEvent](s.events, events.TopicResourceRegistered, events.ResourceRegisteredEvent{
		URI:          path,
		Description:  description,
		RegisteredAt: time.Now(),
	})
	return s
}

// funcResourceHandler adapts a reflected handler function to the
// ResourceHandler interface.
type funcResourceHandler struct {
	uri         string
	description string
	argType     reflect.Type
	fn          reflect.Value
}

func newFuncResourceHandler(uri, description string, handler interface{}) (*funcResourceHandler, error) {
	if handler == nil {
		return nil, fmt.Errorf("resource %q: handler must not be nil", uri)
	}
	fnType := reflect.TypeOf(handler)
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("resource %q: handler must be a function, got %s", uri, fnType.Kind())
	}
	if fnType.NumIn() != 2 {
		return nil, fmt.Errorf("resource %q: handler must take (ctx *server.Context, args T), got %d parameters", uri, fnType.NumIn())
	}
	if fnType.In(0) != contextPtrType {
		return nil, fmt.Errorf("resource %q: first parameter must be *server.Context, got %s", uri, fnType.In(0))
	}
	argType := fnType.In(1)
	structType := argType
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct && argType != mapArgsType {
		return nil, fmt.Errorf("resource %q: argument type must be a struct, pointer to struct, or map[string]interface{}, got %s", uri, argType)
	}
	if fnType.NumOut() != 2 {
		return nil, fmt.Errorf("resource %q: handler must return (interface{}, error), got %d values", uri, fnType.NumOut())
	}
	if !fnType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("resource %q: second return value must be error, got %s", uri, fnType.Out(1))
	}

	return &funcResourceHandler{
		uri:         uri,
		description: description,
		argType:     argType,
		fn:          reflect.ValueOf(handler),
	}, nil
}

func (h *funcResourceHandler) URI() string { return h.uri }

func (h *funcResourceHandler) Definition() mcp.Resource {
	return mcp.Resource{
		URI:         h.uri,
		Name:        h.uri,
		Description: h.description,
		MimeType:    "text/plain",
	}
}

// Read binds the context's matched path parameters to the handler's
// argument type and shapes the return value into resource contents.
func (h *funcResourceHandler) Read(ctx *Context) ([]mcp.ResourceContents, error) {
	argValue, err := h.bindArgs(ctx.PathParams)
	if err != nil {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
	}

	out := h.fn.Call([]reflect.Value{reflect.ValueOf(ctx), argValue})
	if errVal := out[1].Interface(); errVal != nil {
		return nil, errVal.(error)
	}
	return shapeResourceContents(ctx.Request, h.uri, out[0].Interface())
}

func (h *funcResourceHandler) bindArgs(params map[string]string) (reflect.Value, error) {
	if h.argType == mapArgsType {
		args := make(map[string]interface{}, len(params))
		for k, v := range params {
			args[k] = v
		}
		return reflect.ValueOf(args), nil
	}

	structType := h.argType
	isPtr := structType.Kind() == reflect.Ptr
	if isPtr {
		structType = structType.Elem()
	}
	target := reflect.New(structType)

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "path",
		Result:           target.Interface(),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := decoder.Decode(params); err != nil {
		return reflect.Value{}, fmt.Errorf("binding path parameters: %w", err)
	}

	if isPtr {
		return target, nil
	}
	return target.Elem(), nil
}

// shapeResourceContents converts a handler's return value into resource
// contents blocks keyed by the request URI.
func shapeResourceContents(req *mcp.Message, registeredURI string, result interface{}) ([]mcp.ResourceContents, error) {
	uri := registeredURI
	if req != nil && req.Params != nil {
		var p resourceReadParams
		if err := json.Unmarshal(req.Params, &p); err == nil && p.URI != "" {
			uri = p.URI
		}
	}

	switch v := result.(type) {
	case nil:
		return []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: ""}}, nil
	case string:
		return []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: v}}, nil
	case []byte:
		return []mcp.ResourceContents{{URI: uri, MimeType: "application/octet-stream", Blob: base64.StdEncoding.EncodeToString(v)}}, nil
	case mcp.ResourceContents:
		return []mcp.ResourceContents{v}, nil
	case []mcp.ResourceContents:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding resource contents: %w", err)
		}
		return []mcp.ResourceContents{{URI: uri, MimeType: "application/json", Text: string(encoded)}}, nil
	}
}

// resourceListResult is the typed result of resources/list.
type resourceListResult struct {
	Resources []mcp.Resource `json:"resources"`
}

func (s *serverImpl) processResourceList(_ *Context) (interface{}, error) {
	return resourceListResult{Resources: s.registry.listResources()}, nil
}

// resourceReadParams are the typed parameters of resources/read,
// resources/subscribe, and resources/unsubscribe.
type resourceReadParams struct {
	URI string `json:"uri"`
}

// resourceReadResult is the typed result of resources/read.
type resourceReadResult struct {
	Contents []mcp.ResourceContents `json:"contents"`
}

func (s *serverImpl) processResourceRead(ctx *Context) (interface{}, error) {
	params, err := parseResourceURI(ctx)
	if err != nil {
		return nil, err
	}

	handler, pathParams, ok := s.registry.lookupResource(params.URI)
	if !ok {
		return nil, &handlerError{capability: "resource", key: params.URI, err: fmt.Errorf("resource not found")}
	}
	ctx.PathParams = pathParams

	contents, err := handler.Read(ctx)
	if err != nil {
		if _, ok := err.(*protocolError); ok {
			return nil, err
		}
		return nil, &handlerError{capability: "resource", key: params.URI, err: err}
	}

	_ = events.Publish[events.ResourceAccessedEvent](s.events, events.TopicResourceAccessed, events.ResourceAccessedEvent{
		URI:        params.URI,
		AccessedAt: time.Now(),
	})

	return resourceReadResult{Contents: contents}, nil
}

func (s *serverImpl) processResourceSubscribe(ctx *Context) (interface{}, error) {
	params, err := parseResourceURI(ctx)
	if err != nil {
		return nil, err
	}

	handler, _, ok := s.registry.lookupResource(params.URI)
	if !ok {
		return nil, &handlerError{capability: "resource", key: params.URI, err: fmt.Errorf("resource not found")}
	}

	sub, ok := handler.(ResourceSubscriber)
	if !ok {
		return nil, &handlerError{capability: "resource", key: params.URI, err: fmt.Errorf("resource does not support subscriptions")}
	}
	if err := sub.Subscribe(); err != nil {
		return nil, &handlerError{capability: "resource", key: params.URI, err: err}
	}
	return map[string]interface{}{}, nil
}

func (s *serverImpl) processResourceUnsubscribe(ctx *Context) (interface{}, error) {
	params, err := parseResourceURI(ctx)
	if err != nil {
		return nil, err
	}

	handler, _, ok := s.registry.lookupResource(params.URI)
	if !ok {
		return nil, &handlerError{capability: "resource", key: params.URI, err: fmt.Errorf("resource not found")}
	}

	sub, ok := handler.(ResourceSubscriber)
	if !ok {
		return nil, &handlerError{capability: "resource", key: params.URI, err: fmt.Errorf("resource does not support subscriptions")}
	}
	if err := sub.Unsubscribe(); err != nil {
		return nil, &handlerError{capability: "resource", key: params.URI, err: err}
	}
	return map[string]interface{}{}, nil
}

func parseResourceURI(ctx *Context) (*resourceReadParams, error) {
	var params resourceReadParams
	if ctx.Request.Params == nil {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", "missing resource uri")
	}
	if err := json.Unmarshal(ctx.Request.Params, &params); err != nil {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
	}
	if params.URI == "" {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", "missing resource uri")
	}
	return &params, nil
}
