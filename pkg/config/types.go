// Package config loads and validates the agent's settings file. Settings are
// YAML, bound into typed structs and validated before anything else starts;
// a bad settings file fails fast with the full list of violations.
package config

import "time"

// Settings is the root of the agent settings file.
type Settings struct {
	// Workspace configures where module sources live and how subprocesses
	// find their binaries.
	Workspace WorkspaceSettings `yaml:"workspace" validate:"required"`

	// Backend selects and configures the IaC tool driven by the engine.
	Backend BackendSettings `yaml:"backend" validate:"required"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetrySettings `yaml:"telemetry"`

	// History configures the local run-history store.
	History HistorySettings `yaml:"history"`

	// Policy configures the plan policy gate.
	Policy PolicySettings `yaml:"policy"`
}

// WorkspaceSettings locates module working directories.
type WorkspaceSettings struct {
	// Root is the directory module sources are fetched beneath.
	Root string `yaml:"root" validate:"required"`

	// ExtraPaths are prepended to PATH for every tool subprocess, letting
	// operators pin tool binaries outside the system PATH.
	ExtraPaths []string `yaml:"extra_paths"`
}

// BackendSettings selects the IaC tool.
type BackendSettings struct {
	// Name is the backend identifier.
	Name string `yaml:"name" validate:"required,oneof=terraform opentofu pulumi"`

	// Binary overrides the tool binary; empty means the backend default.
	Binary string `yaml:"binary"`

	// GracePeriod is how long a graceful cancellation waits before
	// escalating to a hard kill.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// TelemetrySettings configures the observability stack.
type TelemetrySettings struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput string `yaml:"log_output"`

	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	MetricsListenAddress string `yaml:"metrics_listen_address" validate:"required_if=MetricsEnabled true"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// HistorySettings configures the local run-history store.
type HistorySettings struct {
	// Enabled turns step recording on.
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path" validate:"required_if=Enabled true"`
}

// PolicySettings configures the plan policy gate.
type PolicySettings struct {
	// Enabled turns plan evaluation on before apply and destroy.
	Enabled bool `yaml:"enabled"`

	// Dir holds .rego policy files loaded alongside the built-in policy.
	Dir string `yaml:"dir"`

	// MaxDeletes caps deletes a plan may carry; 0 means unlimited.
	MaxDeletes int `yaml:"max_deletes" validate:"min=0"`

	// MaxReplaces caps replaces a plan may carry; 0 means unlimited.
	MaxReplaces int `yaml:"max_replaces" validate:"min=0"`
}
