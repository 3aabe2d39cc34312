// Package config provides the configuration schema, loader and file watcher
// for the medinterp client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/medinterp/internal/session"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding [slog.Level]. Unknown values map to
// [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Service   ServiceConfig   `yaml:"service"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the local HTTP listener (health and metrics) and
// logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/metrics listener
	// (e.g., "localhost:8089"). Set it to "off" to disable the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ServiceConfig describes the remote interpretation service.
type ServiceConfig struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:8000/ws".
	URL string `yaml:"url"`

	// Profile selects the envelope dialect: "turn" or "conversation".
	Profile session.Profile `yaml:"profile"`

	// ReconnectDelay is the fixed pause before each redial.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// HandshakeTimeout bounds each WebSocket dial.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReadyOnOpen treats the session as connected as soon as the socket
	// opens, for services that never send openai_connected.
	ReadyOnOpen bool `yaml:"ready_on_open"`

	// Headers are added to the WebSocket upgrade request.
	Headers map[string]string `yaml:"headers"`
}

// AudioConfig configures the host microphone and speaker.
type AudioConfig struct {
	// CaptureSampleRate is the rate the microphone is opened at. Captured
	// audio is resampled to 24 kHz before it is sent.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// CaptureChannels is the number of interleaved capture channels. They
	// are downmixed to mono.
	CaptureChannels int `yaml:"capture_channels"`

	// PlaybackBuffer is the speaker buffer size. Zero lets the driver pick.
	PlaybackBuffer time.Duration `yaml:"playback_buffer"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where the Prometheus handler is mounted.
	MetricsPath string `yaml:"metrics_path"`
}

// Defaults.
const (
	DefaultListenAddr        = "localhost:8089"
	DefaultServiceURL        = "ws://localhost:8000/ws"
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultCaptureSampleRate = 48000
	DefaultCaptureChannels   = 1
	DefaultServiceName       = "medinterp"
	DefaultMetricsPath       = "/metrics"

	// ListenOff disables the health/metrics listener.
	ListenOff = "off"
)

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Service.URL == "" {
		cfg.Service.URL = DefaultServiceURL
	}
	if cfg.Service.Profile == "" {
		cfg.Service.Profile = session.ProfileTurn
	}
	if cfg.Service.ReconnectDelay == 0 {
		cfg.Service.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Service.HandshakeTimeout == 0 {
		cfg.Service.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureSampleRate
	}
	if cfg.Audio.CaptureChannels == 0 {
		cfg.Audio.CaptureChannels = DefaultCaptureChannels
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}
