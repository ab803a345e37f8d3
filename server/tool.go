package server

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/mcp"
	"github.com/tidewater/gomcp/util/schema"
)

// Tool registers a tool with the server using a typed handler function.
// The handler must have the signature
//
//	func(ctx *Context, args T) (interface{}, error)
//
// where T is a struct, a pointer to struct, or map[string]interface{}.
// The tool's input schema is generated from T's fields and tags, and
// incoming arguments are validated and converted before the handler runs.
func (s *serverImpl) Tool(name, description string, handler interface{}) Server {
	th, err := newFuncToolHandler(name, description, handler)
	if err != nil {
		s.logger.Error("invalid tool handler", "tool", name, "error", err)
		return s
	}
	s.static.addTool(th)
	s.logger.Debug("registered tool", "tool", name)

	_ = events.Publish[events.ToolRegisteredEvent](s.events, events.TopicToolRegistered, events.ToolRegisteredEvent{
		ToolName:     name,
		Description:  description,
		RegisteredAt: time.Now(),
		Schema:       th.schemaMap,
	})
	return s
}

// funcToolHandler adapts a reflected handler function to the ToolHandler
// interface, carrying the generated schema for argument conversion.
type funcToolHandler struct {
	name        string
	description string
	schemaMap   map[string]interface{}
	argType     reflect.Type
	fn          reflect.Value
}

var (
	contextPtrType = reflect.TypeOf((*Context)(nil))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	mapArgsType    = reflect.TypeOf(map[string]interface{}{})
)

// newFuncToolHandler validates the handler signature and builds the input
// schema from the argument type.
func newFuncToolHandler(name, description string, handler interface{}) (*funcToolHandler, error) {
	if handler == nil {
		return nil, fmt.Errorf("tool %q: handler must not be nil", name)
	}
	fnType := reflect.TypeOf(handler)
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("tool %q: handler must be a function, got %s", name, fnType.Kind())
	}
	if fnType.NumIn() != 2 {
		return nil, fmt.Errorf("tool %q: handler must take (ctx *server.Context, args T), got %d parameters", name, fnType.NumIn())
	}
	if fnType.In(0) != contextPtrType {
		return nil, fmt.Errorf("tool %q: first parameter must be *server.Context, got %s", name, fnType.In(0))
	}
	argType := fnType.In(1)
	structType := argType
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct && argType != mapArgsType {
		return nil, fmt.Errorf("tool %q: argument type must be a struct, pointer to struct, or map[string]interface{}, got %s", name, argType)
	}
	if fnType.NumOut() != 2 {
		return nil, fmt.Errorf("tool %q: handler must return (interface{}, error), got %d values", name, fnType.NumOut())
	}
	if !fnType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("tool %q: second return value must be error, got %s", name, fnType.Out(1))
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
	if structType.Kind() == reflect.Struct {
		generated, err := schema.NewGenerator().GenerateSchema(reflect.New(structType).Elem().Interface())
		if err != nil {
			return nil, fmt.Errorf("tool %q: failed to generate schema: %w", name, err)
		}
		schemaMap = generated
	}

	return &funcToolHandler{
		name:        name,
		description: description,
		schemaMap:   schemaMap,
		argType:     argType,
		fn:          reflect.ValueOf(handler),
	}, nil
}

func (h *funcToolHandler) Name() string { return h.name }

func (h *funcToolHandler) Definition() mcp.Tool {
	return mcp.Tool{
		Name:        h.name,
		Description: h.description,
		InputSchema: h.schemaMap,
	}
}

func (h *funcToolHandler) Call(ctx *Context, args map[string]interface{}) (interface{}, error) {
	var argValue reflect.Value
	if h.argType == mapArgsType {
		if args == nil {
			args = map[string]interface{}{}
		}
		argValue = reflect.ValueOf(args)
	} else {
		converted, err := schema.ValidateAndConvertArgs(h.schemaMap, args, h.argType)
		if err != nil {
			return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
		}
		argValue = reflect.ValueOf(converted)
	}

	out := h.fn.Call([]reflect.Value{reflect.ValueOf(ctx), argValue})
	if errVal := out[1].Interface(); errVal != nil {
		return nil, errVal.(error)
	}
	return out[0].Interface(), nil
}

// toolListResult is the typed result of tools/list.
type toolListResult struct {
	Tools []mcp.Tool `json:"tools"`
}

func (s *serverImpl) processToolList(_ *Context) (interface{}, error) {
	return toolListResult{Tools: s.registry.listTools()}, nil
}

// toolCallParams are the typed parameters of tools/call.
type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// toolCallResult shapes a tool's return value into the content-block form
// clients expect.
type toolCallResult struct {
	Content []mcp.Content `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func (s *serverImpl) processToolCall(ctx *Context) (interface{}, error) {
	var params toolCallParams
	if err := json.Unmarshal(ctx.Request.Params, &params); err != nil {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name == "" {
		return nil, newProtocolError(mcp.CodeInvalidParams, "Invalid params", "missing tool name")
	}

	handler, ok := s.registry.lookupTool(params.Name)
	if !ok {
		available := s.registry.toolNames()
		detail := fmt.Sprintf("tool %q not found", params.Name)
		if len(available) > 0 {
			detail = fmt.Sprintf("tool %q not found; available tools: %s", params.Name, strings.Join(available, ", "))
		}
		return nil, &handlerError{capability: "tool", key: params.Name, err: fmt.Errorf("%s", detail)}
	}

	started := time.Now()
	result, err := handler.Call(ctx, params.Arguments)
	duration := time.Since(started)

	_ = events.Publish[events.ToolExecutedEvent](s.events, events.TopicToolExecuted, events.ToolExecutedEvent{
		ToolName:   params.Name,
		Duration:   duration,
		Success:    err == nil,
		ExecutedAt: started,
	})

	if err != nil {
		if _, ok := err.(*protocolError); ok {
			return nil, err
		}
		return nil, &handlerError{capability: "tool", key: params.Name, err: err}
	}

	s.logger.Debug("tool executed", "tool", params.Name, "duration", duration)
	return shapeToolResult(result), nil
}

// shapeToolResult converts a handler's return value into content blocks.
// Strings pass through as text; anything already shaped as a call result
// is preserved; other values are JSON-encoded.
func shapeToolResult(result interface{}) interface{} {
	switch v := result.(type) {
	case nil:
		return toolCallResult{Content: []mcp.Content{{Type: "text", Text: ""}}}
	case string:
		return toolCallResult{Content: []mcp.Content{{Type: "text", Text: v}}}
	case toolCallResult:
		return v
	case *toolCallResult:
		return v
	case []mcp.Content:
		return toolCallResult{Content: v}
	case mcp.Content:
		return toolCallResult{Content: []mcp.Content{v}}
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return toolCallResult{Content: []mcp.Content{{Type: "text", Text: fmt.Sprintf("%v", v)}}}
		}
		return toolCallResult{Content: []mcp.Content{{Type: "text", Text: string(encoded)}}}
	}
}
