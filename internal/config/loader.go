package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file.
const (
	EnvServiceURL = "MEDINTERP_SERVICE_URL"
	EnvLogLevel   = "MEDINTERP_LOG_LEVEL"
	EnvListenAddr = "MEDINTERP_LISTEN_ADDR"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the MEDINTERP_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServiceURL); ok && v != "" {
		cfg.Service.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Service
	if cfg.Service.URL == "" {
		errs = append(errs, errors.New("service.url is required"))
	} else if u, err := url.Parse(cfg.Service.URL); err != nil {
		errs = append(errs, fmt.Errorf("service.url %q: %w", cfg.Service.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.url %q must use the ws or wss scheme", cfg.Service.URL))
	}
	if cfg.Service.Profile != "" && !cfg.Service.Profile.IsValid() {
		errs = append(errs, fmt.Errorf("service.profile %q is invalid; valid values: turn, conversation", cfg.Service.Profile))
	}
	if cfg.Service.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("service.reconnect_delay %s must not be negative", cfg.Service.ReconnectDelay))
	}
	if cfg.Service.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.handshake_timeout %s must not be negative", cfg.Service.HandshakeTimeout))
	}

	// Audio
	if r := cfg.Audio.CaptureSampleRate; r != 0 && (r < 8000 || r > 384000) {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d is out of range [8000, 384000]", r))
	}
	if c := cfg.Audio.CaptureChannels; c < 0 || c > 8 {
		errs = append(errs, fmt.Errorf("audio.capture_channels %d is out of range [1, 8]", c))
	}
	if cfg.Audio.PlaybackBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_buffer %s must not be negative", cfg.Audio.PlaybackBuffer))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}
