package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level differs; the new level
	// can be applied without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists top-level settings that changed but only take
	// effect after a restart (providers are built once at startup).
	RestartRequired []string
}

// Changed reports whether d carries any change.
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

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Generation, new.Generation) {
		d.RestartRequired = append(d.RestartRequired, "generation")
	}
	if old.Pipeline != new.Pipeline {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if !reflect.DeepEqual(old.Languages, new.Languages) {
		d.RestartRequired = append(d.RestartRequired, "languages")
	}
	if !reflect.DeepEqual(old.Observe, new.Observe) {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}
	return d
}
