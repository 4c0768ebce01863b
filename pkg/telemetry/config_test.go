package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "carrier-pigeon" }},
		{"sampling rate out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want failure")
			}
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("GetLevel() = %v, want warn", logger.GetLevel())
	}
}

func TestNewLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("GetLevel() = %v, want info", logger.GetLevel())
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these may panic on a disabled instance.
	m.StepStarted("terraform", "plan")
	m.StepCompleted("terraform", "plan", "success", time.Second)
	m.SetPlanChanges("mod-1", "create", 3)
	m.SetResourcesManaged("mod-1", "terraform", 7)
	m.RecordError("execution")

	if m.Handler() != nil {
		t.Error("Handler() != nil for disabled metrics")
	}
}

func TestMetricsEnabledRegistersCollectors(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Namespace:     "snapcd_agent",
	})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.StepStarted("pulumi", "apply")
	m.StepCompleted("pulumi", "apply", "failure", 3*time.Second)

	if m.Handler() == nil {
		t.Fatal("Handler() = nil for enabled metrics")
	}

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"snapcd_agent_steps_started_total", "snapcd_agent_steps_completed_total", "snapcd_agent_step_duration_seconds"} {
		if !strings.Contains(joined, want) {
			t.Errorf("gathered families %v, want %s", names, want)
		}
	}
}
