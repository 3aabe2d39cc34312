// Package transport owns the persistent duplex connection to the remote
// interpretation service.
//
// A [Transport] dials the service, sends the connect handshake on every open,
// delivers decoded envelopes to its owner in arrival order and, when the
// connection drops without being asked to, redials after a fixed delay until
// it succeeds or the owner calls [Transport.Close]. Only one dial is ever
// outstanding because the whole lifecycle runs on the single goroutine that
// called [Transport.Run].
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/medinterp/internal/observe"
	"github.com/MrWong99/medinterp/internal/protocol"
)

// DefaultReconnectDelay is the fixed pause before redialling.
const DefaultReconnectDelay = 3 * time.Second

// ErrNotConnected is returned by [Transport.Send] when no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// Status is the lifecycle state of the physical connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the lower-case name of s.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config configures a [Transport].
type Config struct {
	// URL of the service endpoint, e.g. "ws://localhost:8000/ws".
	URL string

	// Dialer opens connections. Defaults to a [WebSocketDialer].
	Dialer Dialer

	// ReconnectDelay is the fixed delay between a close (or failed dial) and
	// the next dial. Defaults to [DefaultReconnectDelay].
	ReconnectDelay time.Duration

	// OnEnvelope receives every decoded inbound envelope in arrival order.
	// It is called on the Run goroutine and must not block for long.
	OnEnvelope func(protocol.Envelope)

	// OnStatus is called on the Run goroutine after every status change.
	OnStatus func(Status)

	// OnError receives transport-level errors: failed dials, failed
	// handshakes and undecodable frames. None of them close the connection.
	OnError func(error)

	// Metrics records connection gauges and reconnect counts. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Transport is a self-healing connection to the interpretation service.
//
// Send, Status and Close are safe for concurrent use; Run must be called
// exactly once.
type Transport struct {
	url        string
	dialer     Dialer
	delay      time.Duration
	onEnvelope func(protocol.Envelope)
	onStatus   func(Status)
	onError    func(error)
	metrics    *observe.Metrics

	mu     sync.Mutex
	conn   Conn
	status Status
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a [Transport]. Nothing is dialled until [Transport.Run].
func New(cfg Config) *Transport {
	t := &Transport{
		url:        cfg.URL,
		dialer:     cfg.Dialer,
		delay:      cfg.ReconnectDelay,
		onEnvelope: cfg.OnEnvelope,
		onStatus:   cfg.OnStatus,
		onError:    cfg.OnError,
		metrics:    cfg.Metrics,
		done:       make(chan struct{}),
	}
	if t.dialer == nil {
		t.dialer = WebSocketDialer{}
	}
	if t.delay <= 0 {
		t.delay = DefaultReconnectDelay
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	if t.onEnvelope == nil {
		t.onEnvelope = func(protocol.Envelope) {}
	}
	if t.onStatus == nil {
		t.onStatus = func(Status) {}
	}
	if t.onError == nil {
		t.onError = func(error) {}
	}
	return t
}

// Run connects and keeps the connection alive until ctx is cancelled or
// [Transport.Close] is called. It always returns nil after an explicit Close
// and ctx.Err() after cancellation.
func (t *Transport) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if !t.wait(ctx) {
				return t.exitErr(ctx)
			}
			t.metrics.Reconnects.Add(ctx, 1)
			slog.Info("reconnecting to interpretation service", "url", t.url, "attempt", attempt)
		}
		if t.isClosed() || ctx.Err() != nil {
			return t.exitErr(ctx)
		}

		t.setStatus(StatusConnecting)
		conn, err := t.dialer.Dial(ctx, t.url)
		if err != nil {
			t.setStatus(StatusDisconnected)
			if ctx.Err() != nil || t.isClosed() {
				return t.exitErr(ctx)
			}
			slog.Warn("dial failed", "url", t.url, "retry_in", t.delay, "err", err)
			t.onError(err)
			continue
		}

		if !t.adopt(conn) {
			_ = conn.Close()
			t.setStatus(StatusDisconnected)
			return t.exitErr(ctx)
		}
		attempt = 0
		t.metrics.Connected.Add(ctx, 1)
		t.setStatus(StatusConnected)

		if err := t.Send(ctx, protocol.Connect()); err != nil {
			t.onError(fmt.Errorf("transport: handshake: %w", err))
		}

		readErr := t.readLoop(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		closed := t.closed
		t.mu.Unlock()
		_ = conn.Close()
		t.metrics.Connected.Add(context.WithoutCancel(ctx), -1)
		t.setStatus(StatusDisconnected)

		if closed || ctx.Err() != nil {
			return t.exitErr(ctx)
		}
		slog.Warn("connection to interpretation service lost", "retry_in", t.delay, "err", readErr)
	}
}

// readLoop delivers frames until the connection fails.
func (t *Transport) readLoop(ctx context.Context, conn Conn) error {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			slog.Debug("dropping undecodable frame", "bytes", len(frame), "err", err)
			t.onError(err)
			continue
		}
		t.onEnvelope(env)
	}
}

// Send writes env on the open connection. It returns an error wrapping
// [ErrNotConnected] when there is none.
func (t *Transport) Send(ctx context.Context, env protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: cannot send %s", ErrNotConnected, env.Type)
	}

	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, frame); err != nil {
		return fmt.Errorf("transport: send %s: %w", env.Type, err)
	}
	return nil
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Close closes the connection and stops reconnecting. Safe to call multiple
// times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })

	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// adopt publishes conn as the open connection unless Close won the race.
func (t *Transport) adopt(conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conn = conn
	return true
}

func (t *Transport) setStatus(s Status) {
	t.mu.Lock()
	changed := t.status != s
	t.status = s
	t.mu.Unlock()
	if changed {
		t.onStatus(s)
	}
}

// wait sleeps for the reconnect delay. It reports false when the transport
// should stop instead.
func (t *Transport) wait(ctx context.Context) bool {
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) exitErr(ctx context.Context) error {
	if t.isClosed() {
		return nil
	}
	return ctx.Err()
}
