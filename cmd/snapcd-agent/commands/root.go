package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snapcd/agent/pkg/config"
	"github.com/snapcd/agent/pkg/engine"
	"github.com/snapcd/agent/pkg/extrafiles"
	"github.com/snapcd/agent/pkg/policy"
	"github.com/snapcd/agent/pkg/runner"
	"github.com/snapcd/agent/pkg/stores"
	"github.com/snapcd/agent/pkg/telemetry"
)

// Signals carries the process-level cancellation channels from main.
type Signals struct {
	Graceful <-chan struct{}
	Kill     <-chan struct{}
}

var (
	// Global flags
	configPath   string
	stackName    string
	namespace    string
	moduleName   string
	moduleID     string
	sourceSubdir string
	beforeHook   string
	afterHook    string
	extraFiles   string
	backendName  string
)

// Execute runs the root command.
func Execute(ctx context.Context, sig Signals, version, commit, buildDate string) error {
	rootCmd := newRootCommand(sig, version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(sig Signals, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snapcd-agent",
		Short: "snapcd agent - IaC engine lifecycle driver",
		Long: `The snapcd agent drives Terraform, OpenTofu and Pulumi through their
init/plan/apply/destroy/output lifecycle for one module at a time, parsing
plan artifacts into normalized change summaries along the way.

Every lifecycle step persists its composed script and artifacts under the
module's .snapcd-scratch directory for operator inspection.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "snapcd-agent.yaml", "settings file path")
	rootCmd.PersistentFlags().StringVar(&stackName, "stack", "", "stack name")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "namespace name")
	rootCmd.PersistentFlags().StringVar(&moduleName, "module", "", "module name")
	rootCmd.PersistentFlags().StringVar(&moduleID, "module-id", "", "module identifier")
	rootCmd.PersistentFlags().StringVar(&sourceSubdir, "source-subdir", "", "subdirectory inside the module source to run in")
	rootCmd.PersistentFlags().StringVar(&beforeHook, "before-hook", "", "shell fragment run before the step's command")
	rootCmd.PersistentFlags().StringVar(&afterHook, "after-hook", "", "shell fragment run after the step's command")
	rootCmd.PersistentFlags().StringVar(&extraFiles, "extra-files", "", "JSON file mapping module-relative paths to file content, injected before the step")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "backend to drive (terraform, opentofu, pulumi), overriding the settings file")

	rootCmd.AddCommand(newInitCommand(sig))
	rootCmd.AddCommand(newValidateCommand(sig))
	rootCmd.AddCommand(newPlanCommand(sig))
	rootCmd.AddCommand(newPlanDestroyCommand(sig))
	rootCmd.AddCommand(newApplyCommand(sig))
	rootCmd.AddCommand(newDestroyCommand(sig))
	rootCmd.AddCommand(newOutputCommand(sig))
	rootCmd.AddCommand(newStatsCommand(sig))
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// agentRuntime bundles the collaborators every lifecycle command needs.
type agentRuntime struct {
	settings *config.Settings
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	store    stores.Store // nil when history is disabled
	gate     *policy.Gate // nil when the policy gate is disabled
	engine   engine.Engine
	job      engine.JobMetadata
}

// newRuntime loads settings and wires the telemetry stack, history store,
// policy gate and engine for one command invocation.
func newRuntime(ctx context.Context, sig Signals) (*agentRuntime, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendName != "" {
		settings.Backend.Name = backendName
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  settings.Telemetry.LogLevel,
		Format: settings.Telemetry.LogFormat,
		Output: settings.Telemetry.LogOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       settings.Telemetry.MetricsEnabled,
		ListenAddress: settings.Telemetry.MetricsListenAddress,
		Path:          "/metrics",
		Namespace:     "snapcd_agent",
	})
	if err != nil {
		return nil, fmt.Errorf("configuring metrics: %w", err)
	}
	if settings.Telemetry.MetricsEnabled {
		go func() {
			if err := metrics.Serve(); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:       settings.Telemetry.TracingEnabled,
		Exporter:      settings.Telemetry.TracingExporter,
		Endpoint:      settings.Telemetry.TracingEndpoint,
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
		Insecure:      true,
	}, "snapcd-agent", "dev", "production")
	if err != nil {
		return nil, fmt.Errorf("configuring tracer: %w", err)
	}

	rt := &agentRuntime{
		settings: settings,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}

	if settings.History.Enabled {
		store, err := stores.NewSQLiteStore(settings.History.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("configuring history store: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating history store: %w", err)
		}
		rt.store = store
	}

	if settings.Policy.Enabled {
		gate, err := policy.NewGate(logger)
		if err != nil {
			return nil, fmt.Errorf("configuring policy gate: %w", err)
		}
		if settings.Policy.Dir != "" {
			loader := policy.NewLoader(logger)
			policies, err := loader.LoadDir(settings.Policy.Dir)
			if err != nil {
				return nil, err
			}
			if err := gate.LoadPolicies(ctx, policies); err != nil {
				return nil, err
			}
			if err := loader.Watch(ctx, settings.Policy.Dir, func(ps []policy.Policy) error {
				return gate.LoadPolicies(context.Background(), ps)
			}); err != nil {
				logger.Warn().Err(err).Msg("policy hot-reload unavailable")
			}
		}
		rt.gate = gate
	}

	rt.job = engine.JobMetadata{
		StackName:          stackName,
		NamespaceName:      namespace,
		ModuleName:         moduleName,
		ModuleID:           moduleID,
		SourceSubdirectory: sourceSubdir,
	}

	killCh := escalate(sig.Graceful, sig.Kill, settings.Backend.GracePeriod, logger)
	eng, err := engine.New(settings.Backend.Name, rt.job, engine.Options{
		WorkspaceRoot: settings.Workspace.Root,
		Binary:        settings.Backend.Binary,
		ExtraPaths:    settings.Workspace.ExtraPaths,
		Sink:          func(line string) { fmt.Fprintln(os.Stdout, line) },
		Signals:       runner.Signals{Graceful: sig.Graceful, Kill: killCh},
		Logger:        telemetry.WithModule(logger, moduleID, moduleName),
	})
	if err != nil {
		return nil, err
	}
	rt.engine = eng

	return rt, nil
}

// close releases the runtime's resources.
func (rt *agentRuntime) close(ctx context.Context) {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("closing history store failed")
		}
	}
	if err := rt.tracer.Shutdown(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
}

func hooks() engine.Hooks {
	return engine.Hooks{Before: beforeHook, After: afterHook}
}

// escalate derives the kill channel handed to the engine. It closes when the
// process-level kill channel closes, or when grace elapses after a graceful
// cancellation without the step finishing. A non-positive grace disables the
// timer and the process-level channel passes through unchanged.
func escalate(graceful, kill <-chan struct{}, grace time.Duration, logger zerolog.Logger) <-chan struct{} {
	if grace <= 0 {
		return kill
	}
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-kill:
			return
		case <-graceful:
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-kill:
		case <-timer.C:
			logger.Warn().Dur("grace_period", grace).Msg("grace period elapsed, escalating to kill")
		}
	}()
	return out
}

// syncExtraFiles reconciles the module directory with the --extra-files
// manifest before a lifecycle step runs. An empty manifest removes earlier
// injections and restores any overwritten originals. Without the flag the
// module directory is left alone.
func (rt *agentRuntime) syncExtraFiles() error {
	if extraFiles == "" {
		return nil
	}
	raw, err := os.ReadFile(extraFiles)
	if err != nil {
		return fmt.Errorf("reading extra-files manifest: %w", err)
	}
	var contents map[string]string
	if err := json.Unmarshal(raw, &contents); err != nil {
		return fmt.Errorf("parsing extra-files manifest %s: %w", extraFiles, err)
	}

	dirs := rt.engine.Dirs()
	manager := extrafiles.NewManager(dirs.InitDir, dirs.ScratchDir, rt.logger)
	if len(contents) == 0 {
		return manager.Remove()
	}
	files := make(map[string][]byte, len(contents))
	for path, content := range contents {
		files[path] = []byte(content)
	}
	return manager.Apply(files)
}

// runStep wraps one lifecycle step with tracing, metrics and history
// recording. The step function's error passes through untouched.
func (rt *agentRuntime) runStep(ctx context.Context, step string, fn func(context.Context) (summaryJSON *string, stderr *string, err error)) error {
	backend := rt.settings.Backend.Name
	rt.metrics.StepStarted(backend, step)

	ctx, span := rt.tracer.StartStepSpan(ctx, backend, rt.job.ModuleID, step)
	defer span.End()

	started := time.Now()
	summaryJSON, stderr, err := fn(ctx)
	completed := time.Now()

	status := stores.StepStatusSuccess
	switch {
	case engine.IsCanceled(err):
		status = stores.StepStatusCanceled
	case err != nil:
		status = stores.StepStatusFailure
	}

	if err != nil {
		telemetry.RecordError(span, err)
		rt.metrics.RecordError(classify(err))
	} else {
		telemetry.RecordSuccess(span)
	}
	rt.metrics.StepCompleted(backend, step, string(status), completed.Sub(started))

	rt.recordStep(ctx, step, status, started, completed, summaryJSON, stderr)
	return err
}

// recordStep writes the step into the history store. Best-effort: recording
// failures are logged, never returned.
func (rt *agentRuntime) recordStep(ctx context.Context, step string, status stores.StepStatus, started, completed time.Time, summaryJSON, stderr *string) {
	if rt.store == nil {
		return
	}
	rec := &stores.StepRecord{
		ModuleID:      rt.job.ModuleID,
		StackName:     rt.job.StackName,
		NamespaceName: rt.job.NamespaceName,
		ModuleName:    rt.job.ModuleName,
		Backend:       rt.settings.Backend.Name,
		Step:          step,
		Status:        status,
		StartedAt:     started,
		CompletedAt:   completed,
		Summary:       summaryJSON,
		Stderr:        stderr,
	}
	if err := rt.store.RecordStep(ctx, rec); err != nil {
		rt.logger.Warn().Err(err).Str("step", step).Msg("recording step history failed")
	}
}

// classify maps an error to its taxonomy class label for metrics.
func classify(err error) string {
	var vErr *engine.ValidationError
	var initErr *engine.InitRequiredError
	var outErr *engine.OutputSetError
	var exitErr *runner.ExitError
	var denied *policy.DeniedError
	switch {
	case engine.IsCanceled(err):
		return "canceled"
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &initErr):
		return "init_required"
	case errors.As(err, &outErr):
		return "output_set"
	case errors.As(err, &denied):
		return "policy_denied"
	case errors.As(err, &exitErr):
		return "execution"
	default:
		return "internal"
	}
}

// stderrOf extracts the tool's stderr from an execution failure, for history
// recording.
func stderrOf(err error) *string {
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) && exitErr.Stderr != "" {
		s := exitErr.Stderr
		return &s
	}
	return nil
}

// printJSON renders a command's result document to stdout.
func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// parseKeyValues parses repeated key=value flags.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

// parseOrderedKeyValues preserves flag order for backend-config assembly.
func parseOrderedKeyValues(pairs []string) ([]engine.KeyValue, error) {
	out := make([]engine.KeyValue, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out = append(out, engine.KeyValue{Key: key, Value: value})
	}
	return out, nil
}
