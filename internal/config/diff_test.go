package config

import "testing"

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Server:  ServerConfig{LogLevel: LogInfo},
		Session: SessionConfig{AutoRestart: true, MaxRetries: 3},
		History: HistoryConfig{MaxEntries: 100},
	}
	d := Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("Diff of identical configs = %+v, want no changes", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	new := &Config{Server: ServerConfig{LogLevel: LogDebug}}
	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("Diff = %+v, want LogLevelChanged with debug", d)
	}
}

func TestDiff_SessionPolicy(t *testing.T) {
	t.Parallel()
	old := &Config{Session: SessionConfig{AutoRestart: false}}
	new := &Config{Session: SessionConfig{AutoRestart: true, MaxRetries: 10}}
	d := Diff(old, new)
	if !d.SessionChanged || d.NewSession.MaxRetries != 10 {
		t.Errorf("Diff = %+v, want SessionChanged", d)
	}
	if d.LogLevelChanged || d.HistoryLimitChanged {
		t.Errorf("Diff = %+v, unrelated fields flagged", d)
	}
}

func TestDiff_HistoryLimit(t *testing.T) {
	t.Parallel()
	old := &Config{History: HistoryConfig{MaxEntries: 100}}
	new := &Config{History: HistoryConfig{MaxEntries: 500}}
	d := Diff(old, new)
	if !d.HistoryLimitChanged || d.NewHistoryLimit != 500 {
		t.Errorf("Diff = %+v, want HistoryLimitChanged with 500", d)
	}
}
