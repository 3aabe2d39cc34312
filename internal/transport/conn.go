package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Conn is one open duplex channel carrying whole text frames.
//
// Read and Write may be called concurrently with each other. Close unblocks
// a pending Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens a [Conn] to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// defaultReadLimit caps a single inbound frame. Audio deltas are base64 PCM
// and routinely exceed the websocket library default of 32 KiB.
const defaultReadLimit = 16 << 20

// WebSocketDialer dials the interpretation service over WebSocket.
type WebSocketDialer struct {
	// HTTPHeader is sent with the opening handshake.
	HTTPHeader http.Header

	// HandshakeTimeout bounds the opening handshake. Zero means no extra
	// bound beyond the caller's context.
	HandshakeTimeout time.Duration

	// ReadLimit caps inbound frame size in bytes. Defaults to 16 MiB.
	ReadLimit int64
}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.HTTPHeader})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

// wsConn adapts a coder/websocket connection to [Conn].
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, frame []byte) error {
	return w.c.Write(ctx, websocket.MessageText, frame)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closing")
}
