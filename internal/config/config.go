// Package config provides the configuration schema, loader, and provider
// registry for the voicegate call orchestration server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voicegate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps time.Duration so YAML values like "10s" decode directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voicegate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Call      CallConfig      `yaml:"call"`
}

// ServerConfig holds network and logging settings for the voicegate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each Name is looked up in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback optionally names a secondary answering backend tried when
	// the primary fails, before the apology path applies.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Language is the transcription language hint (STT only).
	Language string `yaml:"language"`

	// VoiceID is the provider-specific voice identifier (TTS only).
	VoiceID string `yaml:"voice_id"`
}

// CallConfig holds per-call conversation behaviour.
type CallConfig struct {
	// Greeting is an optional scripted line spoken as soon as the call is
	// active. Empty means no greeting.
	Greeting string `yaml:"greeting"`

	// ClosingMessage is spoken before hanging up when the caller says a
	// closing phrase or the conversation ends.
	ClosingMessage string `yaml:"closing_message"`

	// ApologyMessage is spoken when the answering or synthesis backend fails.
	ApologyMessage string `yaml:"apology_message"`

	// ClosingPhrases end the call when a final utterance contains one of them
	// as a whole-word sequence.
	ClosingPhrases []string `yaml:"closing_phrases"`

	// SystemPrompt is the assistant persona injected into every LLM request.
	SystemPrompt string `yaml:"system_prompt"`

	// LLMTimeout bounds a single answering request.
	LLMTimeout Duration `yaml:"llm_timeout"`

	// SynthesisTimeout bounds a single synthesis request.
	SynthesisTimeout Duration `yaml:"synthesis_timeout"`

	// DrainTimeout bounds how long teardown waits for queued outbound audio.
	DrainTimeout Duration `yaml:"drain_timeout"`

	// OutboundQueueDepth is the bounded outbound audio queue size in frames.
	OutboundQueueDepth int `yaml:"outbound_queue_depth"`

	// CompletedLogSize bounds the in-memory completed call log.
	CompletedLogSize int `yaml:"completed_log_size"`

	// TelephonySampleRate is the sample rate of the caller leg audio in Hz.
	TelephonySampleRate int `yaml:"telephony_sample_rate"`

	// EngineSampleRate is the sample rate the speech engines operate at in Hz.
	EngineSampleRate int `yaml:"engine_sample_rate"`
}

// DefaultClosingPhrases is used when call.closing_phrases is not configured.
var DefaultClosingPhrases = []string{"goodbye", "bye", "that's all", "hang up", "end call"}

// ApplyDefaults fills in zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if len(c.Call.ClosingPhrases) == 0 {
		c.Call.ClosingPhrases = append([]string(nil), DefaultClosingPhrases...)
	}
	if c.Call.ClosingMessage == "" {
		c.Call.ClosingMessage = "Thank you for calling. Goodbye."
	}
	if c.Call.ApologyMessage == "" {
		c.Call.ApologyMessage = "I'm sorry, I'm having trouble answering right now. Could you repeat that?"
	}
	if c.Call.LLMTimeout <= 0 {
		c.Call.LLMTimeout = Duration(10 * time.Second)
	}
	if c.Call.SynthesisTimeout <= 0 {
		c.Call.SynthesisTimeout = Duration(10 * time.Second)
	}
	if c.Call.DrainTimeout <= 0 {
		c.Call.DrainTimeout = Duration(5 * time.Second)
	}
	if c.Call.OutboundQueueDepth <= 0 {
		c.Call.OutboundQueueDepth = 32
	}
	if c.Call.CompletedLogSize <= 0 {
		c.Call.CompletedLogSize = 50
	}
	if c.Call.TelephonySampleRate <= 0 {
		c.Call.TelephonySampleRate = 8000
	}
	if c.Call.EngineSampleRate <= 0 {
		c.Call.EngineSampleRate = 16000
	}
}
