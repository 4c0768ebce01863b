package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snapcd/agent/pkg/plan"
	"github.com/snapcd/agent/pkg/runner"
)

// Well-known scratch-directory file names shared by both backends.
const (
	varsFileName       = "snapcd.tfvars"
	statisticsFileName = "statistics.txt"
	outputFileName     = "output.json"
)

// Engine is the full lifecycle contract for one backend. Every method that
// launches a subprocess returns that subprocess's raw captured stdout for
// audit logging.
type Engine interface {
	// Init persists the resolved environment and initializes the backend
	// in the module directory.
	Init(ctx context.Context, env map[string]string, hooks Hooks, backend BackendConfiguration, flags Flags) (string, error)

	// Validate checks the module configuration. Failures come back as
	// *ValidationError.
	Validate(ctx context.Context, hooks Hooks) (string, error)

	// Plan writes the resolved parameters to the variables file and
	// produces the apply-plan artifact. Each call overwrites the
	// previous artifact for this module.
	Plan(ctx context.Context, params map[string]string, hooks Hooks) (string, error)

	// PlanDestroy is Plan targeting the distinct destroy-plan artifact,
	// so a pending destroy-plan and apply-plan can coexist.
	PlanDestroy(ctx context.Context, params map[string]string, hooks Hooks) (string, error)

	// ApplyFromPlan applies the saved apply-plan artifact and captures a
	// post-apply resource count to the statistics file, even when the
	// apply itself fails.
	ApplyFromPlan(ctx context.Context, hooks Hooks) (string, error)

	// DestroyFromPlan destroys from the saved destroy-plan artifact,
	// likewise capturing statistics.
	DestroyFromPlan(ctx context.Context, hooks Hooks) (string, error)

	// Output dumps the module's outputs and builds the normalized output
	// set. extraFileOutputs flags output names sourced from extra files.
	Output(ctx context.Context, hooks Hooks, extraFileOutputs map[string]bool) (*OutputSet, error)

	// Statistics actively re-derives the live resource count by running
	// a backend query command.
	Statistics(ctx context.Context) (int, error)

	// ReadStatisticsFromFile passively reads whatever the last
	// apply/destroy wrote, returning 0 when the file is absent or
	// unparsable. Use this when a process may have crashed mid-operation
	// and no fresh query is safe.
	ReadStatisticsFromFile() int

	// ParseApplyPlan parses the saved apply-plan artifact into a change
	// summary.
	ParseApplyPlan() (*plan.Summary, error)

	// ParseDestroyPlan parses the saved destroy-plan artifact.
	ParseDestroyPlan() (*plan.Summary, error)

	// Dirs exposes the module's resolved working directories.
	Dirs() ModuleDirs
}

// New selects and constructs the concrete engine for a backend name. This is
// the only place backend dispatch happens; there is no downcasting
// elsewhere.
func New(backend string, job JobMetadata, opts Options) (Engine, error) {
	dirs := ResolveModuleDirs(opts.WorkspaceRoot, job)
	logger := opts.Logger.With().
		Str("backend", backend).
		Str("module_id", job.ModuleID).
		Logger()

	switch backend {
	case BackendTerraform:
		return newTerraformEngine(binaryOr(opts, "terraform"), dirs, opts, logger), nil
	case BackendOpenTofu:
		return newTerraformEngine(binaryOr(opts, "tofu"), dirs, opts, logger), nil
	case BackendPulumi:
		return newPulumiEngine(binaryOr(opts, "pulumi"), dirs, opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func binaryOr(opts Options, fallback string) string {
	if opts.Binary != "" {
		return opts.Binary
	}
	return fallback
}

// core is the execution machinery shared by both engine variants: resolved
// environment caching, script persistence and subprocess invocation.
type core struct {
	dirs         ModuleDirs
	opts         Options
	logger       zerolog.Logger
	strictStderr bool

	mu  sync.Mutex
	env map[string]string
}

// setEnvironment persists the resolved environment and primes the in-memory
// cache. Called by Init only; the mapping is immutable until the next Init.
func (c *core) setEnvironment(env map[string]string) error {
	if err := SaveEnvironmentFile(c.dirs.ScratchDir, env); err != nil {
		return err
	}
	c.mu.Lock()
	c.env = env
	c.mu.Unlock()
	return nil
}

// environment loads the persisted environment once and caches it for the
// engine's lifetime. A missing file is a configuration-ordering error.
func (c *core) environment() (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.env != nil {
		return c.env, nil
	}
	env, err := LoadEnvironmentFile(c.dirs.ScratchDir)
	if err != nil {
		if err == ErrEnvFileNotFound {
			return nil, &InitRequiredError{ScratchDir: c.dirs.ScratchDir}
		}
		return nil, err
	}
	c.env = env
	return env, nil
}

// runStep composes the step script, persists it for operator inspection and
// executes it in the module init directory.
func (c *core) runStep(ctx context.Context, step, baseCommand string, hooks Hooks) (string, error) {
	script := ComposeScript(baseCommand, hooks)

	if err := os.MkdirAll(c.dirs.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	scriptPath := filepath.Join(c.dirs.ScratchDir, step+".sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		return "", fmt.Errorf("persisting %s script: %w", step, err)
	}

	c.logger.Info().Str("step", step).Str("script", scriptPath).Msg("running lifecycle step")

	return runner.Run(ctx, script, runner.Options{
		Dir:          c.dirs.InitDir,
		Env:          c.environment,
		ExtraPaths:   c.opts.ExtraPaths,
		StrictStderr: c.strictStderr,
		Sink:         c.opts.Sink,
		Logger:       c.logger,
	}, c.opts.Signals)
}

// writeVarsFile writes resolved plan parameters as flat key=value lines,
// sorted by key. The path is fixed per module; every Plan overwrites it.
func (c *core) writeVarsFile(params map[string]string) (string, error) {
	if err := os.MkdirAll(c.dirs.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('\n')
	}

	path := filepath.Join(c.dirs.ScratchDir, varsFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("writing variables file: %w", err)
	}
	return path, nil
}

func (c *core) statisticsPath() string {
	return filepath.Join(c.dirs.ScratchDir, statisticsFileName)
}

func (c *core) outputPath() string {
	return filepath.Join(c.dirs.ScratchDir, outputFileName)
}

// readStatisticsFile reads the single-integer statistics file. Absent or
// unparsable content reads as 0 so a crashed operation still reports
// something rather than erroring.
func (c *core) readStatisticsFile() int {
	raw, err := os.ReadFile(c.statisticsPath())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Dirs implements Engine.
func (c *core) Dirs() ModuleDirs {
	return c.dirs
}
