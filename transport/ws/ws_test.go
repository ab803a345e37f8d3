package ws

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/gomcp/transport"
)

func startTransport(t *testing.T, options ...Option) *Transport {
	t.Helper()

	tr := NewTransport("127.0.0.1:0", options...)
	tr.SetMessageHandler(func(message []byte) ([]byte, error) { return nil, nil })
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start())
	t.Cleanup(func() { tr.Stop() })
	return tr
}

func dial(t *testing.T, tr *Transport, path string) *testClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, "ws://"+tr.Addr()+path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{conn: conn}
}

type testClient struct {
	conn net.Conn
}

func (c *testClient) Write(message []byte) error {
	return wsutil.WriteClientMessage(c.conn, ws.OpText, message)
}

func (c *testClient) Read() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, err
	}
	return wsutil.ReadServerText(c.conn)
}

func TestEchoRoundTrip(t *testing.T) {
	tr := startTransport(t)
	tr.SetMessageHandler(func(message []byte) ([]byte, error) {
		return append([]byte("echo:"), message...), nil
	})

	client := dial(t, tr, "/")

	require.NoError(t, client.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))

	got, err := client.Read()
	require.NoError(t, err)
	assert.Contains(t, string(got), "echo:")
}

func TestCustomPath(t *testing.T) {
	tr := startTransport(t, WithPath("/mcp"))
	tr.SetMessageHandler(func(message []byte) ([]byte, error) {
		return message, nil
	})

	client := dial(t, tr, "/mcp")
	require.NoError(t, client.Write([]byte("hello")))

	got, err := client.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestBroadcastSend(t *testing.T) {
	tr := startTransport(t)

	a := dial(t, tr, "/")
	b := dial(t, tr, "/")

	// Give the upgrades time to register.
	require.Eventually(t, func() bool {
		tr.connsMu.Lock()
		defer tr.connsMu.Unlock()
		return len(tr.conns) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Send([]byte("notice")))

	for _, client := range []*testClient{a, b} {
		got, err := client.Read()
		require.NoError(t, err)
		assert.Equal(t, "notice", string(got))
	}
}

func TestSendAfterStop(t *testing.T) {
	tr := NewTransport("127.0.0.1:0")
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start())
	require.NoError(t, tr.Stop())

	err := tr.Send([]byte("late"))
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStopClosesConnections(t *testing.T) {
	tr := NewTransport("127.0.0.1:0")
	tr.SetMessageHandler(func(message []byte) ([]byte, error) { return nil, nil })
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start())

	client := dial(t, tr, "/")
	require.Eventually(t, func() bool {
		tr.connsMu.Lock()
		defer tr.connsMu.Unlock()
		return len(tr.conns) == 1
	}, time.Second, 10*time.Millisecond)

	closed := make(chan struct{})
	tr.SetCloseHandler(func() { close(closed) })
	require.NoError(t, tr.Stop())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close handler not invoked")
	}

	_, err := client.Read()
	assert.Error(t, err, "reads must fail after the server closes the connection")
}
