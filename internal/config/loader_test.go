package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/medinterp/internal/config"
	"github.com/MrWong99/medinterp/internal/session"
)

const fullYAML = `
server:
  listen_addr: "127.0.0.1:9100"
  log_level: debug
service:
  url: wss://interp.example.org/ws
  profile: conversation
  reconnect_delay: 5s
  handshake_timeout: 2s
  ready_on_open: true
  headers:
    Authorization: Bearer abc
audio:
  capture_sample_rate: 44100
  capture_channels: 2
  playback_buffer: 100ms
telemetry:
  service_name: clinic-a
  metrics_path: /internal/metrics
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9100" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Service.URL != "wss://interp.example.org/ws" {
		t.Errorf("service.url = %q", cfg.Service.URL)
	}
	if cfg.Service.Profile != session.ProfileConversation {
		t.Errorf("service.profile = %q", cfg.Service.Profile)
	}
	if cfg.Service.ReconnectDelay != 5*time.Second || cfg.Service.HandshakeTimeout != 2*time.Second {
		t.Errorf("service timings = %s / %s", cfg.Service.ReconnectDelay, cfg.Service.HandshakeTimeout)
	}
	if !cfg.Service.ReadyOnOpen {
		t.Error("service.ready_on_open = false, want true")
	}
	if got := cfg.Service.Headers["Authorization"]; got != "Bearer abc" {
		t.Errorf("Authorization header = %q", got)
	}
	if cfg.Audio.CaptureSampleRate != 44100 || cfg.Audio.CaptureChannels != 2 || cfg.Audio.PlaybackBuffer != 100*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Telemetry.ServiceName != "clinic-a" || cfg.Telemetry.MetricsPath != "/internal/metrics" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.URL != config.DefaultServiceURL {
		t.Errorf("service.url = %q, want default", cfg.Service.URL)
	}
	if cfg.Service.ReconnectDelay != config.DefaultReconnectDelay {
		t.Errorf("reconnect_delay = %s, want default", cfg.Service.ReconnectDelay)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: ws://localhost:8000/ws
  retries: 5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "retries") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: bananas\n",
			want: "server.log_level",
		},
		{
			name: "http scheme",
			yaml: "service:\n  url: http://localhost:8000/ws\n",
			want: "ws or wss",
		},
		{
			name: "bad profile",
			yaml: "service:\n  profile: duplex\n",
			want: "service.profile",
		},
		{
			name: "negative reconnect delay",
			yaml: "service:\n  reconnect_delay: -1s\n",
			want: "service.reconnect_delay",
		},
		{
			name: "sample rate too low",
			yaml: "audio:\n  capture_sample_rate: 4000\n",
			want: "audio.capture_sample_rate",
		},
		{
			name: "too many channels",
			yaml: "audio:\n  capture_channels: 12\n",
			want: "audio.capture_channels",
		},
		{
			name: "relative metrics path",
			yaml: "telemetry:\n  metrics_path: metrics\n",
			want: "telemetry.metrics_path",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: "loud"},
		Service: config.ServiceConfig{URL: "", Profile: "duplex"},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "service.url is required", "service.profile"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvServiceURL: "wss://override.example.org/ws",
		config.EnvLogLevel:   "WARN",
		config.EnvListenAddr: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg, lookup)

	if cfg.Service.URL != "wss://override.example.org/ws" {
		t.Errorf("service.url = %q", cfg.Service.URL)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, empty override should be ignored", cfg.Server.ListenAddr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv(config.EnvServiceURL, "ws://from-env:8000/ws")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.URL != "ws://from-env:8000/ws" {
		t.Errorf("service.url = %q, want env override", cfg.Service.URL)
	}
	if cfg.Service.Profile != session.ProfileConversation {
		t.Errorf("service.profile = %q, want value from file", cfg.Service.Profile)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.ReconnectDelay != config.DefaultReconnectDelay {
		t.Errorf("reconnect_delay = %s", cfg.Service.ReconnectDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Errorf("expected open error, got %v", err)
	}
}
