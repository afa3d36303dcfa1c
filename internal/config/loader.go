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

// ValidProviderNames lists the summariser provider names known to this build.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "openai-native", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	s := cfg.Session
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("session.timeout %s must not be negative", s.Timeout))
	}
	if s.WarningThreshold < 0 {
		errs = append(errs, fmt.Errorf("session.warning_threshold %s must not be negative", s.WarningThreshold))
	}
	if s.Timeout > 0 && s.WarningThreshold >= s.Timeout {
		errs = append(errs, fmt.Errorf("session.warning_threshold %s must be shorter than session.timeout %s", s.WarningThreshold, s.Timeout))
	}
	if s.ExtendStep < 0 {
		errs = append(errs, fmt.Errorf("session.extend_step %s must not be negative", s.ExtendStep))
	}
	if s.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval %s must not be negative", s.SweepInterval))
	}

	if cfg.Summariser.Name != "" {
		errs = append(errs, validateProvider("summariser", cfg.Summariser)...)
	} else if len(cfg.SummariserFallbacks) > 0 {
		errs = append(errs, errors.New("summariser_fallbacks requires summariser.name"))
	}
	for i, fb := range cfg.SummariserFallbacks {
		field := fmt.Sprintf("summariser_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
			continue
		}
		errs = append(errs, validateProvider(field, fb)...)
	}

	return errors.Join(errs...)
}

func validateProvider(field string, p ProviderEntry) []error {
	var errs []error
	if p.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required when %s.name is set", field, field))
	}
	if !slices.Contains(ValidProviderNames, p.Name) {
		slog.Warn("unknown summariser provider name, may be a typo or third-party provider",
			"field", field,
			"name", p.Name,
			"known", ValidProviderNames,
		)
	}
	return errs
}
