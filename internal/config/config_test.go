package config_test

import (
	"testing"

	"github.com/quantabank/voicegate/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":7000"
	cfg.Call.ClosingPhrases = []string{"cheerio"}
	cfg.Call.CompletedLogSize = 10
	cfg.ApplyDefaults()

	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr overwritten: %q", cfg.Server.ListenAddr)
	}
	if len(cfg.Call.ClosingPhrases) != 1 || cfg.Call.ClosingPhrases[0] != "cheerio" {
		t.Errorf("closing_phrases overwritten: %v", cfg.Call.ClosingPhrases)
	}
	if cfg.Call.CompletedLogSize != 10 {
		t.Errorf("completed_log_size overwritten: %d", cfg.Call.CompletedLogSize)
	}
}
