package config

import "maps"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is the only change applied without a restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the YAML keys that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("service.url", old.Service.URL != new.Service.URL)
	restart("service.profile", old.Service.Profile != new.Service.Profile)
	restart("service.reconnect_delay", old.Service.ReconnectDelay != new.Service.ReconnectDelay)
	restart("service.handshake_timeout", old.Service.HandshakeTimeout != new.Service.HandshakeTimeout)
	restart("service.ready_on_open", old.Service.ReadyOnOpen != new.Service.ReadyOnOpen)
	restart("service.headers", !maps.Equal(old.Service.Headers, new.Service.Headers))
	restart("audio", old.Audio != new.Audio)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}
