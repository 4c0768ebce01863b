package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied before validation.
const (
	defaultLogLevel    = "info"
	defaultLogFormat   = "console"
	defaultLogOutput   = "stderr"
	defaultGracePeriod = 30 * time.Second
)

// Load reads, defaults and validates the settings file at path.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	return Parse(raw)
}

// Parse binds raw YAML into validated Settings.
func Parse(raw []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	applyDefaults(&s)

	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.Telemetry.LogLevel == "" {
		s.Telemetry.LogLevel = defaultLogLevel
	}
	if s.Telemetry.LogFormat == "" {
		s.Telemetry.LogFormat = defaultLogFormat
	}
	if s.Telemetry.LogOutput == "" {
		s.Telemetry.LogOutput = defaultLogOutput
	}
	if s.Telemetry.TracingExporter == "" {
		s.Telemetry.TracingExporter = "stdout"
	}
	if s.Backend.GracePeriod == 0 {
		s.Backend.GracePeriod = defaultGracePeriod
	}
}
