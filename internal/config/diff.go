package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true if the restart policy changed.
	SessionChanged bool
	NewSession     SessionConfig

	// HistoryLimitChanged is true if the in-memory history bound changed.
	HistoryLimitChanged bool
	NewHistoryLimit     int
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SessionChanged || d.HistoryLimitChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; capture and
// classifier settings require a full restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	if old.History.MaxEntries != new.History.MaxEntries {
		d.HistoryLimitChanged = true
		d.NewHistoryLimit = new.History.MaxEntries
	}

	return d
}
