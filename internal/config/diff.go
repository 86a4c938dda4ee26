package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CallChanged is true if any conversation text (greeting, closing or
	// apology message, closing phrases, system prompt) changed. Timeouts,
	// queue depths and sample rates require a restart and are not tracked.
	CallChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Call.Greeting != new.Call.Greeting ||
		old.Call.ClosingMessage != new.Call.ClosingMessage ||
		old.Call.ApologyMessage != new.Call.ApologyMessage ||
		old.Call.SystemPrompt != new.Call.SystemPrompt ||
		!equalStrings(old.Call.ClosingPhrases, new.Call.ClosingPhrases) {
		d.CallChanged = true
	}

	return d
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
