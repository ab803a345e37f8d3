// Package stdio provides a standard I/O implementation of the MCP transport.
//
// This package implements the Transport interface using standard input and
// output with newline-delimited JSON framing, suitable for CLI applications
// and direct LLM integration.
package stdio

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tidewater/gomcp/transport"
)

// isValidJSONRPC checks if a line appears to be a valid JSON-RPC message.
// Stdin is a shared stream, so log lines and other noise from the parent
// process are filtered instead of being treated as protocol violations.
func isValidJSONRPC(data []byte) bool {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}

	if v, ok := raw["jsonrpc"].(string); !ok || v != "2.0" {
		return false
	}

	_, hasMethod := raw["method"]
	_, hasID := raw["id"]
	_, hasResult := raw["result"]
	_, hasError := raw["error"]

	// Request or notification
	if hasMethod {
		return true
	}
	// Response
	return hasID && (hasResult || hasError)
}

// Transport implements the transport.Transport interface for Standard I/O.
type Transport struct {
	transport.BaseTransport
	reader   *bufio.Reader
	writer   *bufio.Writer
	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewTransport creates a new Standard I/O transport over os.Stdin and os.Stdout.
func NewTransport() *Transport {
	return NewTransportWithIO(os.Stdin, os.Stdout)
}

// NewTransportWithIO creates a new Standard I/O transport with custom streams.
// This is particularly useful for testing.
func NewTransportWithIO(in io.Reader, out io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(in),
		writer: bufio.NewWriter(out),
		done:   make(chan struct{}),
	}
}

// Initialize initializes the transport.
func (t *Transport) Initialize() error {
	// Nothing to initialize for stdio transport
	return nil
}

// Start starts the transport, beginning to read from stdin.
func (t *Transport) Start() error {
	go t.readLoop()
	return nil
}

// Stop stops the transport. Safe to call more than once.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	t.FireClose()
	return nil
}

// Send writes a message to stdout followed by a newline.
// The write mutex keeps concurrently dispatched handlers from interleaving
// their frames.
func (t *Transport) Send(message []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(message); err != nil {
		return err
	}
	if _, err := t.writer.WriteString("\n"); err != nil {
		return err
	}
	return t.writer.Flush()
}

// readLoop reads lines from stdin and dispatches them to the message handler.
// Handler work runs off the read path so a slow capability call does not
// block subsequent messages.
func (t *Transport) readLoop() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// The peer closed our stdin: the session is over.
				t.GetLogger().Debug("stdio transport: stdin closed")
				_ = t.Stop()
				return
			}
			select {
			case <-t.done:
				return
			default:
			}
			t.ReportError(err)
			continue
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if !isValidJSONRPC([]byte(line)) {
			t.GetLogger().Debug("stdio transport filtered non-JSON-RPC line", "length", len(line))
			continue
		}

		go t.dispatch([]byte(line))
	}
}

// dispatch runs the message handler and writes back its response, if any.
func (t *Transport) dispatch(message []byte) {
	response, err := t.HandleMessage(message)
	if err != nil {
		t.ReportError(err)
		return
	}
	if response == nil {
		return
	}
	if err := t.Send(response); err != nil {
		t.ReportError(err)
	}
}
