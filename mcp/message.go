package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSONRPCVersion is the JSON-RPC protocol version required on every message.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error data type tags carried in the data.type field of error responses,
// so clients can distinguish where a failure originated.
const (
	ErrorTypeProtocol       = "protocol_error"
	ErrorTypeHandler        = "handler_error"
	ErrorTypeMethodNotFound = "method_not_found"
)

// MessageKind discriminates the three shapes a JSON-RPC message can take.
type MessageKind int

const (
	// KindRequest is a message carrying an id and a method.
	KindRequest MessageKind = iota + 1

	// KindNotification is a message carrying a method but no id.
	KindNotification

	// KindResponse is a message carrying an id and a result or error.
	KindResponse
)

// Message is the closed tagged union over the three JSON-RPC message shapes.
// Exactly one Kind is set after a successful ParseMessage; fields that do not
// apply to that kind are zero.
type Message struct {
	Kind   MessageKind
	ID     interface{}
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error returns the error message, implementing the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

// ErrorData is the structured payload carried in an error object's data field.
type ErrorData struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// ParseMessage parses raw bytes into the tagged message union.
// Messages that are not valid JSON-RPC 2.0, or that match none of the three
// shapes, are rejected with an error rather than passed through.
func ParseMessage(data []byte) (*Message, error) {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if env.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", env.JSONRPC)
	}

	switch {
	case env.Method != "" && env.ID != nil:
		return &Message{Kind: KindRequest, ID: env.ID, Method: env.Method, Params: env.Params}, nil
	case env.Method != "":
		return &Message{Kind: KindNotification, Method: env.Method, Params: env.Params}, nil
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		return &Message{Kind: KindResponse, ID: env.ID, Result: env.Result, Error: env.Error}, nil
	}
	return nil, errors.New("message matches no JSON-RPC shape")
}

// Response is an outbound JSON-RPC response carrying a result or an error.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// NewResponse creates a success response for the given request id.
func NewResponse(id, result interface{}) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse creates an error response for the given request id.
// The data parameter typically carries an ErrorData tag.
func NewErrorResponse(id interface{}, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// Marshal serializes the response to wire bytes.
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Notification is an outbound JSON-RPC notification.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewNotification creates a notification for the given method.
func NewNotification(method string, params interface{}) *Notification {
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// Marshal serializes the notification to wire bytes.
func (n *Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}
