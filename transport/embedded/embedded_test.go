package embedded

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/gomcp/transport"
)

func TestPairDelivery(t *testing.T) {
	server, client := NewTransportPair()
	defer server.Stop()

	require.NoError(t, client.Send([]byte("hello")))

	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestHandlerDispatch(t *testing.T) {
	server, client := NewTransportPair()
	defer server.Stop()

	server.SetMessageHandler(func(message []byte) ([]byte, error) {
		return append([]byte("echo:"), message...), nil
	})
	require.NoError(t, server.Initialize())
	require.NoError(t, server.Start())

	require.NoError(t, client.Send([]byte("ping")))

	got, err := client.ReceiveTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(got))
}

func TestConcurrentDispatch(t *testing.T) {
	server, client := NewTransportPair()
	defer server.Stop()

	block := make(chan struct{})
	server.SetMessageHandler(func(message []byte) ([]byte, error) {
		if string(message) == "slow" {
			<-block
		}
		return message, nil
	})
	require.NoError(t, server.Start())

	require.NoError(t, client.Send([]byte("slow")))
	require.NoError(t, client.Send([]byte("fast")))

	// The fast message must come back while the slow one is still blocked.
	got, err := client.ReceiveTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fast", string(got))

	close(block)
	got, err = client.ReceiveTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "slow", string(got))
}

func TestStopClosesBothSides(t *testing.T) {
	server, client := NewTransportPair()

	require.NoError(t, server.Start())
	require.NoError(t, server.Stop())

	err := client.Send([]byte("after close"))
	assert.ErrorIs(t, err, transport.ErrClosed)

	_, err = client.Receive()
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStopIsIdempotent(t *testing.T) {
	server, _ := NewTransportPair()

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
}

func TestCloseHandlerFiresOnce(t *testing.T) {
	server, client := NewTransportPair()

	var mu sync.Mutex
	closes := 0
	server.SetCloseHandler(func() {
		mu.Lock()
		closes++
		mu.Unlock()
	})
	require.NoError(t, server.Start())

	// Peer-initiated close followed by explicit stops.
	require.NoError(t, client.Stop())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closes)
}

func TestSendCopiesMessage(t *testing.T) {
	server, client := NewTransportPair()
	defer server.Stop()

	buf := []byte("original")
	require.NoError(t, client.Send(buf))
	copy(buf, "mutated!")

	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}
