// Command medinterp is the interactive client for the bilingual medical
// interpretation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/medinterp/internal/app"
	"github.com/MrWong99/medinterp/internal/config"
	"github.com/MrWong99/medinterp/internal/observe"
	"github.com/MrWong99/medinterp/pkg/audio/host"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults and MEDINTERP_* env vars when empty)")
	watch := flag.Bool("watch", false, "reload the configuration file when it changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "medinterp: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "medinterp: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medinterp: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("medinterp starting",
		"version", version,
		"config", *configPath,
		"service_url", cfg.Service.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	devices, err := host.Open(host.Config{
		CaptureSampleRate: cfg.Audio.CaptureSampleRate,
		CaptureChannels:   cfg.Audio.CaptureChannels,
		PlaybackBuffer:    cfg.Audio.PlaybackBuffer,
	})
	if err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(telemetry.Metrics, telemetry.Handler()),
		app.WithLogLevel(level),
		app.WithConsole(os.Stdin, os.Stdout),
	}
	if *watch && *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, &app.Devices{
		Source: devices.Microphone(),
		Sink:   devices.Speaker(),
	}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = devices.Close()
		return 1
	}

	slog.Info("client ready, type 'help' for commands or press Ctrl+C to quit")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := devices.Close(); err != nil {
		slog.Warn("audio device close error", "err", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       medinterp startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Service", cfg.Service.URL)
	printRow("Profile", string(cfg.Service.Profile))
	printRow("Reconnect", cfg.Service.ReconnectDelay.String())
	printRow("Microphone", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.CaptureSampleRate, cfg.Audio.CaptureChannels))
	if cfg.Server.ListenAddr == config.ListenOff {
		printRow("Health/metrics", "(disabled)")
	} else {
		printRow("Health/metrics", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
