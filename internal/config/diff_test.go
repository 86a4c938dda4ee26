package config_test

import (
	"testing"

	"github.com/quantabank/voicegate/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d.LogLevelChanged || d.CallChanged {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_CallText(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Call.Greeting = "Hello from Quanta Bank."
	if d := config.Diff(old, new); !d.CallChanged {
		t.Error("greeting change should set CallChanged")
	}

	old, new = baseConfig(), baseConfig()
	new.Call.ClosingPhrases = append(new.Call.ClosingPhrases, "cheerio")
	if d := config.Diff(old, new); !d.CallChanged {
		t.Error("closing phrase change should set CallChanged")
	}

	// Timeouts are not hot-reloadable and must not set CallChanged.
	old, new = baseConfig(), baseConfig()
	new.Call.LLMTimeout = 2 * old.Call.LLMTimeout
	if d := config.Diff(old, new); d.CallChanged {
		t.Error("timeout change should not set CallChanged")
	}
}
