// Package mock provides an in-memory [transport.Dialer] and [transport.Conn]
// pair so that the transport and the session state machine can be tested
// without a network.
//
// Each successful dial creates a fresh [Conn] and publishes it on
// [Dialer.Conns]. The test plays the service: it reads what the client sent
// from [Conn.Sent] and injects service envelopes with [Conn.Push].
// [Conn.Drop] simulates the peer closing the connection.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/medinterp/internal/protocol"
	"github.com/MrWong99/medinterp/internal/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// ErrClosed is returned by Write and Push on a closed connection.
var ErrClosed = errors.New("mock: connection closed")

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialErrors are consumed one per Dial call, in order. A nil entry lets
	// that dial succeed. Once exhausted every dial succeeds.
	DialErrors []error

	// URLs records the url argument of every Dial call.
	URLs []string

	conns chan *Conn
}

// NewDialer returns a Dialer whose Conns channel buffers up to 16 connections.
func NewDialer() *Dialer {
	return &Dialer{conns: make(chan *Conn, 16)}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.URLs = append(d.URLs, url)
	var err error
	if len(d.DialErrors) > 0 {
		err = d.DialErrors[0]
		d.DialErrors = d.DialErrors[1:]
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c := NewConn()
	d.conns <- c
	return c, nil
}

// Conns delivers every connection handed out by Dial.
func (d *Dialer) Conns() <-chan *Conn { return d.conns }

// DialCount returns how many times Dial was called.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.URLs)
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock implementation of [transport.Conn].
type Conn struct {
	inbound chan []byte
	sent    chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn returns an open connection. Up to 256 client frames are buffered
// on Sent before Write blocks.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte),
		sent:    make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// Read implements [transport.Conn]. It returns io.EOF once the connection
// is closed.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.sent <- frame:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements [transport.Conn]. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Sent delivers every frame written by the client.
func (c *Conn) Sent() <-chan []byte { return c.sent }

// Closed is closed once the connection has been closed by either side.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Push delivers env to the client. It blocks until the client reads it.
func (c *Conn) Push(env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.PushRaw(frame)
}

// PushRaw delivers an arbitrary frame to the client.
func (c *Conn) PushRaw(frame []byte) error {
	select {
	case c.inbound <- frame:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Drop simulates the service closing the connection.
func (c *Conn) Drop() { _ = c.Close() }
