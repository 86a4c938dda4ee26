package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation. Unknown names only warn; they may be
	// registered by an embedding program.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; calls will only hear the apology message")
	}

	if len(cfg.Call.ClosingPhrases) == 0 {
		errs = append(errs, errors.New("call.closing_phrases must not be empty"))
	}
	for i, p := range cfg.Call.ClosingPhrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("call.closing_phrases[%d] is empty", i))
		}
	}

	if cfg.Call.LLMTimeout <= 0 {
		errs = append(errs, errors.New("call.llm_timeout must be positive"))
	}
	if cfg.Call.SynthesisTimeout <= 0 {
		errs = append(errs, errors.New("call.synthesis_timeout must be positive"))
	}
	if cfg.Call.DrainTimeout <= 0 {
		errs = append(errs, errors.New("call.drain_timeout must be positive"))
	}
	if cfg.Call.OutboundQueueDepth <= 0 {
		errs = append(errs, errors.New("call.outbound_queue_depth must be positive"))
	}
	if cfg.Call.CompletedLogSize <= 0 {
		errs = append(errs, errors.New("call.completed_log_size must be positive"))
	}
	if cfg.Call.TelephonySampleRate <= 0 {
		errs = append(errs, errors.New("call.telephony_sample_rate must be positive"))
	}
	if cfg.Call.EngineSampleRate <= 0 {
		errs = append(errs, errors.New("call.engine_sample_rate must be positive"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
