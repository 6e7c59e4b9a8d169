// Package client implements the engine that consumes the response protocol:
// a WebSocket transport, a reconnection supervisor, and the single-threaded
// session loop that folds inbound events into per-turn records.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/byteagent/byte/internal/protocol"
)

// recordBuffer absorbs short bursts of inbound records while the session
// loop is busy applying the previous one.
const recordBuffer = 64

// Conn is one established duplex connection. It delivers raw inbound records
// until the connection dies, and it never retries on its own: any I/O failure
// closes Records and is reported through Err. Reconnection policy belongs to
// the Supervisor.
type Conn interface {
	// Send writes one outbound request record.
	Send(req protocol.Request) error

	// Records delivers raw inbound records. The channel is closed when the
	// connection is lost or closed.
	Records() <-chan []byte

	// Err returns the failure that closed Records, or nil after a clean
	// local Close.
	Err() error

	Close() error
}

// Dialer establishes connections. Implemented by WebSocketDialer in
// production and by fakes in tests.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the chat endpoint over WebSocket.
// The bearer credential travels as a query parameter, which is what the
// server expects on upgrade.
type WebSocketDialer struct {
	// Endpoint is the ws:// or wss:// chat URL, e.g. ws://host/ws/chat.
	Endpoint string

	// Token is the bearer credential attached at connect time.
	Token string

	Logger *slog.Logger
}

var _ Dialer = (*WebSocketDialer)(nil)

// Dial establishes one connection and starts its reader goroutine.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", d.Token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.Endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.Endpoint, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &wsConn{
		ws:      ws,
		records: make(chan []byte, recordBuffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go c.readLoop()
	return c, nil
}

// wsConn wraps a gorilla websocket connection as a Conn.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	records chan []byte
	done    chan struct{}
	logger  *slog.Logger

	mu     sync.Mutex
	err    error
	closed bool

	closeOnce sync.Once
}

// readLoop is the single reader goroutine; gorilla permits at most one
// concurrent reader per connection. The done select keeps Close effective
// even when the consumer stopped draining and the buffer is full: closing
// the socket alone would leave a reader parked on the channel send.
func (c *wsConn) readLoop() {
	defer close(c.records)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = fmt.Errorf("read record: %w", err)
			}
			c.mu.Unlock()
			return
		}
		select {
		case c.records <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Send(req protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (c *wsConn) Records() <-chan []byte {
	return c.records
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		c.writeMu.Lock()
		// Best-effort close handshake; the read loop exits either way.
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
