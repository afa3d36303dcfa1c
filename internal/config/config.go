// Package config provides the configuration schema, loader, hot-reload
// watcher and summariser provider registry for voxlabel.
package config

import "time"

// LogLevel controls log verbosity.
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

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultServiceName      = "voxlabel"
	DefaultSessionTimeout   = 2 * time.Hour
	DefaultWarningThreshold = 5 * time.Minute
	DefaultExtendStep       = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	Session    SessionConfig `yaml:"session"`
	Summariser ProviderEntry `yaml:"summariser"`

	// SummariserFallbacks are tried in order when the summariser fails or
	// its circuit is open.
	SummariserFallbacks []ProviderEntry `yaml:"summariser_fallbacks"`

	Observe ObserveConfig `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig holds the idle lifecycle of override sessions. All fields are
// hot-reloadable.
type SessionConfig struct {
	// Timeout is the idle window after which a session and its mappings are
	// purged.
	Timeout time.Duration `yaml:"timeout"`

	// WarningThreshold is how long before expiry a session enters the
	// warning state.
	WarningThreshold time.Duration `yaml:"warning_threshold"`

	// ExtendStep is added to a session's window per extend request.
	ExtendStep time.Duration `yaml:"extend_step"`

	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ObserveConfig holds telemetry settings.
type ObserveConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name resource.
	ServiceName string `yaml:"service_name"`
}

// ProviderEntry configures the LLM provider backing the summary endpoint.
// The Name field is used to look up the constructor in the [Registry]. An
// empty Name disables summarisation.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = DefaultSessionTimeout
	}
	if cfg.Session.WarningThreshold == 0 {
		cfg.Session.WarningThreshold = DefaultWarningThreshold
	}
	if cfg.Session.ExtendStep == 0 {
		cfg.Session.ExtendStep = DefaultExtendStep
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = DefaultSweepInterval
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}
