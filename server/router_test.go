package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/gomcp/events"
	"github.com/tidewater/gomcp/transport/embedded"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type addArgs struct {
	A float64 `json:"a" required:"true"`
	B float64 `json:"b" required:"true"`
}

// newTestServer builds a server with one of everything registered.
func newTestServer() Server {
	return NewServer("test-server", WithLogger(discardLogger()), WithVersion("0.1.0")).
		Tool("add", "Add two numbers", func(ctx *Context, args addArgs) (interface{}, error) {
			return fmt.Sprintf("%g", args.A+args.B), nil
		}).
		Prompt("greeting", "Greet someone", User("Hello, {{name}}!")).
		Resource("test://{id}", "Test resource", func(ctx *Context, args struct {
			ID string `path:"id"`
		}) (interface{}, error) {
			return "resource " + args.ID, nil
		})
}

// startServer runs the server over an embedded pair and returns the client
// side plus a shutdown function that waits for Run to return.
func startServer(t *testing.T, s Server) (*embedded.Transport, func() error) {
	t.Helper()

	srv, client := s.AsEmbedded()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	return client, func() error {
		srv.Shutdown()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after Shutdown")
			return nil
		}
	}
}

// rpc sends a request and waits for the response carrying the same id,
// skipping any notifications that arrive in between.
func rpc(t *testing.T, client *embedded.Transport, id interface{}, method string, params interface{}) map[string]interface{} {
	t.Helper()

	req := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := client.ReceiveTimeout(2 * time.Second)
		require.NoError(t, err)

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg["id"] == nil {
			continue
		}
		if fmt.Sprintf("%v", msg["id"]) == fmt.Sprintf("%v", id) {
			return msg
		}
	}
	t.Fatalf("no response for %s request %v", method, id)
	return nil
}

func notify(t *testing.T, client *embedded.Transport, method string) {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": method})
	require.NoError(t, err)
	require.NoError(t, client.Send(data))
}

func result(t *testing.T, msg map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Nil(t, msg["error"], "expected success, got error: %v", msg["error"])
	res, ok := msg["result"].(map[string]interface{})
	require.True(t, ok, "result is not an object: %v", msg["result"])
	return res
}

func rpcError(t *testing.T, msg map[string]interface{}) map[string]interface{} {
	t.Helper()
	errObj, ok := msg["error"].(map[string]interface{})
	require.True(t, ok, "expected error response, got: %v", msg)
	return errObj
}

func TestInitializeHandshake(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "initialize", map[string]interface{}{
		"protocolVersion": "2025-03-26",
		"clientInfo":      map[string]interface{}{"name": "test-client", "version": "1.0"},
	})
	res := result(t, resp)

	assert.Equal(t, "2025-03-26", res["protocolVersion"])

	serverInfo := res["serverInfo"].(map[string]interface{})
	assert.Equal(t, "test-server", serverInfo["name"])
	assert.Equal(t, "0.1.0", serverInfo["version"])

	caps := res["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "prompts")
	assert.Contains(t, caps, "resources")
	resources := caps["resources"].(map[string]interface{})
	assert.Equal(t, true, resources["subscribe"])
}

func TestServerReadyFollowsInitializeResponse(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	req, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]interface{}{"protocolVersion": "2025-03-26"},
	})
	require.NoError(t, err)
	require.NoError(t, client.Send(req))

	first, err := client.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(first, &response))
	assert.NotNil(t, response["id"], "first message must be the initialize response")

	second, err := client.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	var ready map[string]interface{}
	require.NoError(t, json.Unmarshal(second, &ready))
	assert.Equal(t, "server/ready", ready["method"], "server/ready must follow the response")
}

func TestUnsupportedVersionFallsBackToLatest(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "initialize", map[string]interface{}{
		"protocolVersion": "1999-01-01",
	})
	res := result(t, resp)
	assert.Equal(t, "2025-03-26", res["protocolVersion"])
}

func TestPing(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, "ping-1", "ping", nil)
	res := result(t, resp)
	assert.Empty(t, res)
}

func TestToolListAndCall(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "tools/list", nil)
	res := result(t, resp)
	tools := res["tools"].([]interface{})
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]interface{})
	assert.Equal(t, "add", tool["name"])
	assert.NotNil(t, tool["inputSchema"])

	resp = rpc(t, client, 2, "tools/call", map[string]interface{}{
		"name":      "add",
		"arguments": map[string]interface{}{"a": 2, "b": 3},
	})
	res = result(t, resp)
	content := res["content"].([]interface{})
	require.Len(t, content, 1)
	block := content[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "5", block["text"])
}

func TestUnknownToolEnumeratesAvailable(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "tools/call", map[string]interface{}{
		"name": "subtract",
	})
	errObj := rpcError(t, resp)
	assert.Contains(t, errObj["message"], "subtract")
	assert.Contains(t, errObj["message"], "add", "error should name the available tools")

	data := errObj["data"].(map[string]interface{})
	assert.Equal(t, "handler_error", data["type"])
}

func TestToolHandlerErrorKeepsSessionAlive(t *testing.T) {
	s := NewServer("test", WithLogger(discardLogger())).
		Tool("fail", "Always fails", func(ctx *Context, args map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		})
	client, stop := startServer(t, s)
	defer stop()

	resp := rpc(t, client, 1, "tools/call", map[string]interface{}{"name": "fail"})
	errObj := rpcError(t, resp)
	assert.Contains(t, errObj["message"], "boom")

	// The session survives the failure.
	resp = rpc(t, client, 2, "ping", nil)
	result(t, resp)
}

func TestMissingRequiredToolArgument(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "tools/call", map[string]interface{}{
		"name":      "add",
		"arguments": map[string]interface{}{"a": 2},
	})
	errObj := rpcError(t, resp)
	assert.EqualValues(t, -32602, errObj["code"])
}

func TestPromptGet(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "prompts/list", nil)
	res := result(t, resp)
	prompts := res["prompts"].([]interface{})
	require.Len(t, prompts, 1)

	resp = rpc(t, client, 2, "prompts/get", map[string]interface{}{
		"name":      "greeting",
		"arguments": map[string]interface{}{"name": "World"},
	})
	res = result(t, resp)
	messages := res["messages"].([]interface{})
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	content := msg["content"].(map[string]interface{})
	assert.Equal(t, "Hello, World!", content["text"])
}

func TestResourceRead(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "resources/read", map[string]interface{}{
		"uri": "test://42",
	})
	res := result(t, resp)
	contents := res["contents"].([]interface{})
	require.Len(t, contents, 1)
	block := contents[0].(map[string]interface{})
	assert.Equal(t, "test://42", block["uri"])
	assert.Equal(t, "resource 42", block["text"])
}

func TestResourceSubscribeUnsupported(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "resources/subscribe", map[string]interface{}{
		"uri": "test://42",
	})
	errObj := rpcError(t, resp)
	assert.Contains(t, errObj["message"], "does not support subscriptions")
}

func TestMethodNotFound(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	resp := rpc(t, client, 1, "bogus/method", nil)
	errObj := rpcError(t, resp)
	assert.EqualValues(t, -32601, errObj["code"])

	data := errObj["data"].(map[string]interface{})
	assert.Equal(t, "method_not_found", data["type"])
}

func TestCapabilityGating(t *testing.T) {
	// Tools only: prompt and resource methods are not routable.
	s := NewServer("tools-only", WithLogger(discardLogger())).
		Tool("noop", "Does nothing", func(ctx *Context, args map[string]interface{}) (interface{}, error) {
			return "ok", nil
		})
	client, stop := startServer(t, s)
	defer stop()

	resp := rpc(t, client, 1, "initialize", map[string]interface{}{"protocolVersion": "2025-03-26"})
	caps := result(t, resp)["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "tools")
	assert.NotContains(t, caps, "prompts")
	assert.NotContains(t, caps, "resources")

	resp = rpc(t, client, 2, "prompts/list", nil)
	errObj := rpcError(t, resp)
	assert.EqualValues(t, -32601, errObj["code"])

	resp = rpc(t, client, 3, "resources/read", map[string]interface{}{"uri": "test://1"})
	errObj = rpcError(t, resp)
	assert.EqualValues(t, -32601, errObj["code"])
}

func TestUnknownNotificationIgnored(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	notify(t, client, "notifications/unknown")

	// The session is unaffected.
	resp := rpc(t, client, 1, "ping", nil)
	result(t, resp)
}

func TestInitializedNotificationPublishesEvent(t *testing.T) {
	s := newTestServer()

	received := make(chan events.ServerInitializedEvent, 1)
	events.Subscribe[events.ServerInitializedEvent](s.Events(), events.TopicServerInitialized,
		func(ctx context.Context, evt events.ServerInitializedEvent) error {
			received <- evt
			return nil
		})

	client, stop := startServer(t, s)
	defer stop()

	rpc(t, client, 1, "initialize", map[string]interface{}{
		"protocolVersion": "2025-03-26",
		"clientInfo":      map[string]interface{}{"name": "test-client", "version": "1.0"},
	})
	notify(t, client, "notifications/initialized")

	select {
	case evt := <-received:
		assert.Equal(t, "test-server", evt.ServerName)
		assert.Equal(t, "2025-03-26", evt.ProtocolVersion)
		assert.Equal(t, 1, evt.ToolCount)
		assert.Equal(t, 1, evt.PromptCount)
		assert.Equal(t, 1, evt.ResourceCount)
	case <-time.After(2 * time.Second):
		t.Fatal("initialized notification published no event")
	}
}

func TestParseErrorResponse(t *testing.T) {
	client, stop := startServer(t, newTestServer())
	defer stop()

	require.NoError(t, client.Send([]byte(`{"jsonrpc":"2.0",`)))

	raw, err := client.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	errObj := rpcError(t, msg)
	assert.EqualValues(t, -32700, errObj["code"])
}
