// Package app wires the interpretation client subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run drives them until the context is cancelled or the user quits,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithConsole, etc.). When an option is not provided, New uses the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medinterp/internal/config"
	"github.com/MrWong99/medinterp/internal/console"
	"github.com/MrWong99/medinterp/internal/health"
	"github.com/MrWong99/medinterp/internal/observe"
	"github.com/MrWong99/medinterp/internal/protocol"
	"github.com/MrWong99/medinterp/internal/session"
	"github.com/MrWong99/medinterp/internal/transport"
	"github.com/MrWong99/medinterp/pkg/audio"
)

// Devices holds the audio endpoints the session records from and plays to.
// Populated by main.go from the host audio backend.
type Devices struct {
	Source audio.Source
	Sink   audio.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	devices *Devices

	// Injected or defaulted in New.
	dialer     transport.Dialer
	metrics    *observe.Metrics
	metricsH   http.Handler
	levelVar   *slog.LevelVar
	configPath string
	stdin      io.Reader
	stdout     io.Writer
	onEvent    func(session.Event)

	// Subsystems, initialised in New and torn down in Shutdown.
	machine   *session.Machine
	transport *transport.Transport
	console   *console.Console
	listener  net.Listener
	server    *http.Server
	watcher   *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer replaces the WebSocket dialer built from the service config.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics records into m and serves h on the configured metrics path.
// A nil h leaves the metrics route unregistered.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsH = h
	}
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch polls the config file at path and applies changes that do
// not need a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithConsole attaches the interactive console to in and out. Run returns
// once the user quits.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithEventHandler receives every session event after the console.
func WithEventHandler(fn func(session.Event)) Option {
	return func(a *App) { a.onEvent = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The devices come
// from main.go. Use Option functions to inject test doubles.
//
// New binds the HTTP listener synchronously so address errors surface before
// Run. Nothing is dialled until Run.
func New(ctx context.Context, cfg *config.Config, devices *Devices, opts ...Option) (*App, error) {
	if devices == nil || devices.Source == nil || devices.Sink == nil {
		return nil, errors.New("app: audio source and sink are required")
	}
	a := &App{
		cfg:     cfg,
		devices: devices,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Console ───────────────────────────────────────────────────────
	if a.stdin != nil {
		a.console = console.New(a.stdin, a.stdout)
	}

	// ── 2. Session machine + transport ───────────────────────────────────
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 3. HTTP (health + metrics) ───────────────────────────────────────
	if err := a.initHTTP(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			a.runClosers()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initSession builds the transport and the machine it feeds. The transport
// callbacks only fire from Run, after the machine exists.
func (a *App) initSession() error {
	dialer := a.dialer
	if dialer == nil {
		header := make(http.Header, len(a.cfg.Service.Headers))
		for k, v := range a.cfg.Service.Headers {
			header.Set(k, v)
		}
		dialer = transport.WebSocketDialer{
			HTTPHeader:       header,
			HandshakeTimeout: a.cfg.Service.HandshakeTimeout,
		}
	}
	a.transport = transport.New(transport.Config{
		URL:            a.cfg.Service.URL,
		Dialer:         dialer,
		ReconnectDelay: a.cfg.Service.ReconnectDelay,
		OnEnvelope:     func(env protocol.Envelope) { a.machine.HandleEnvelope(env) },
		OnStatus:       func(s transport.Status) { a.machine.HandleTransportStatus(s) },
		OnError:        func(err error) { a.machine.HandleTransportError(err) },
		Metrics:        a.metrics,
	})

	m, err := session.New(session.Config{
		Sender:      a.transport,
		Source:      a.devices.Source,
		Sink:        a.devices.Sink,
		Profile:     a.cfg.Service.Profile,
		ReadyOnOpen: a.cfg.Service.ReadyOnOpen,
		OnEvent:     a.handleEvent,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.machine = m
	a.closers = append(a.closers, a.transport.Close)
	return nil
}

// initHTTP binds the health and metrics listener unless it is switched off.
func (a *App) initHTTP(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" || addr == config.ListenOff {
		return nil
	}

	mux := http.NewServeMux()
	health.New(a.machine).Register(mux)
	if a.metricsH != nil {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.metricsH)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           otelhttp.NewHandler(mux, "medinterp.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		// The listener is not owned by the server until Serve runs.
		err := errors.Join(a.server.Close(), ln.Close())
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	return nil
}

// Session returns the session machine for direct control.
func (a *App) Session() *session.Machine { return a.machine }

// HTTPAddr returns the bound health/metrics address, or "" when disabled.
func (a *App) HTTPAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every subsystem and blocks until ctx is cancelled, the user
// quits the console, or a subsystem fails. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.machine.Run(gctx) })
	g.Go(func() error { return a.transport.Run(gctx) })

	if a.server != nil {
		g.Go(func() error {
			if err := a.server.Serve(a.listener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, done := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer done()
			return a.server.Shutdown(shutCtx)
		})
	}

	if a.console != nil {
		g.Go(func() error {
			err := a.console.Run(gctx, a.machine)
			cancel()
			return err
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "service", a.cfg.Service.URL, "profile", a.cfg.Service.Profile, "http", a.HTTPAddr())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleEvent fans a session event out to the console and the test hook.
func (a *App) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventConnectionState:
		slog.Info("session connection", "status", ev.Status)
	case session.EventTurnCompleted:
		slog.Debug("turn completed", "role", ev.Role, "chars", len(ev.Text))
	}
	if a.console != nil {
		a.console.HandleEvent(ev)
	}
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

// applyConfig is the watcher callback. Only the log level is applied live.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed; restart to apply", "keys", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes all subsystems in order. It respects the ctx deadline and
// is safe to call more than once; only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app shutting down")

		done := make(chan error, 1)
		go func() { done <- a.runClosers() }()

		select {
		case err := <-done:
			shutdownErr = err
		case <-ctx.Done():
			shutdownErr = fmt.Errorf("app: shutdown timed out: %w", ctx.Err())
		}
	})
	return shutdownErr
}

func (a *App) runClosers() error {
	var errs []error
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
