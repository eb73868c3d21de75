// Package config provides the configuration schema, loader, and provider registry
// for the EchoVerse narration server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/echoverse/internal/voice"
)

// LogLevel controls log verbosity for the EchoVerse server.
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

// SlogLevel maps l to the corresponding [slog.Level]. Unknown and empty
// levels map to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
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

// Config is the root configuration structure for EchoVerse.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`

	// Languages replaces the built-in voice catalog when non-empty.
	Languages []voice.Language `yaml:"languages"`

	Observe ObserveConfig `yaml:"observe"`
}

// ServerConfig holds network, session and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// SessionTTL is how long an idle session and its history survive.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MaxUploadBytes caps uploaded document size. Default: 20 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the text-generation and speech backends. Each
// entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTSFallbacks are tried in order when the primary TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// CircuitBreaker tunes the per-backend breakers used with fallbacks.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "watsonx", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "ibm/granite-13b-instruct-v2", "gpt-4o-mini-tts").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g. project_id, decoding_method, timeout).
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig mirrors the breaker knobs exposed in YAML.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// GenerationConfig holds the parameters sent with every text-generation call.
type GenerationConfig struct {
	MaxNewTokens int `yaml:"max_new_tokens"`

	// Temperature is nil when unset; an explicit 0 selects greedy output.
	Temperature *float64 `yaml:"temperature"`
}

// PipelineConfig holds defaults applied to requests that omit a selection.
type PipelineConfig struct {
	DefaultTone     string `yaml:"default_tone"`
	DefaultLanguage string `yaml:"default_language"`
}

// ObserveConfig controls telemetry.
type ObserveConfig struct {
	// ServiceName is reported in telemetry resources. Default: "echoverse".
	ServiceName string `yaml:"service_name"`

	// Metrics enables the /metrics endpoint. Default: true.
	Metrics *bool `yaml:"metrics"`
}

// MetricsEnabled reports whether the Prometheus endpoint should be served.
func (o ObserveConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}
