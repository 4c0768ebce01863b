package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapcd/agent/pkg/plan"
	"github.com/snapcd/agent/pkg/runner"
)

// Terraform-family plan artifact names under the scratch directory. The
// artifacts are the tool's own plan archives: zips holding the binary plan
// under "tfplan" and the prior state under "tfstate".
const (
	tfPlanArchiveName        = "tfplan.zip"
	tfDestroyPlanArchiveName = "tfplan_destroy.zip"
)

// terraformEngine drives Terraform and OpenTofu; the two differ only in
// binary name. Stderr is treated strictly: the tools write benign text to
// stderr inconsistently, so any stderr output fails the step even on exit
// code 0.
type terraformEngine struct {
	core
	binary string
}

var _ Engine = (*terraformEngine)(nil)

func newTerraformEngine(binary string, dirs ModuleDirs, opts Options, logger zerolog.Logger) *terraformEngine {
	return &terraformEngine{
		core: core{
			dirs:         dirs,
			opts:         opts,
			logger:       logger,
			strictStderr: true,
		},
		binary: binary,
	}
}

// Init implements Engine. The resolved environment is persisted before
// anything runs so later steps reload exactly what this call resolved.
func (e *terraformEngine) Init(ctx context.Context, env map[string]string, hooks Hooks, backend BackendConfiguration, flags Flags) (string, error) {
	if err := e.setEnvironment(env); err != nil {
		return "", err
	}

	args := []string{e.binary, "init", "-input=false"}
	if flags.Upgrade {
		args = append(args, "-upgrade")
	}
	if flags.Reconfigure {
		args = append(args, "-reconfigure")
	}
	if flags.MigrateState {
		args = append(args, "-migrate-state")
	}
	for _, kv := range assembleBackendConfig(backend) {
		args = append(args, fmt.Sprintf("-backend-config=%q", kv.Key+"="+kv.Value))
	}

	base := strings.Join(args, " ")
	// -migrate-state and -reconfigure prompt interactively; feed the
	// confirmation up front.
	if flags.MigrateState || flags.Reconfigure {
		base = "echo yes | " + base
	}

	return e.runStep(ctx, "init", base, hooks)
}

// assembleBackendConfig flattens the two override levels into one ordered
// list: namespace-level entries first (unless ignored), module-level entries
// applied on top keyed by name. Later module-level entries win on key
// collision; first-seen position is kept so argument order stays stable.
func assembleBackendConfig(backend BackendConfiguration) []KeyValue {
	var out []KeyValue
	index := make(map[string]int)

	apply := func(entries []KeyValue) {
		for _, kv := range entries {
			if i, ok := index[kv.Key]; ok {
				out[i].Value = kv.Value
				continue
			}
			index[kv.Key] = len(out)
			out = append(out, kv)
		}
	}

	if !backend.IgnoreNamespaceOverrides {
		apply(backend.NamespaceOverrides)
	}
	apply(backend.ModuleOverrides)
	return out
}

// Validate implements Engine.
func (e *terraformEngine) Validate(ctx context.Context, hooks Hooks) (string, error) {
	out, err := e.runStep(ctx, "validate", e.binary+" validate", hooks)
	if err != nil && !IsCanceled(err) {
		return out, &ValidationError{Dir: e.dirs.InitDir, Err: err}
	}
	return out, err
}

// Plan implements Engine.
func (e *terraformEngine) Plan(ctx context.Context, params map[string]string, hooks Hooks) (string, error) {
	return e.planTo(ctx, "plan", tfPlanArchiveName, nil, params, hooks)
}

// PlanDestroy implements Engine.
func (e *terraformEngine) PlanDestroy(ctx context.Context, params map[string]string, hooks Hooks) (string, error) {
	return e.planTo(ctx, "plan_destroy", tfDestroyPlanArchiveName, []string{"-destroy"}, params, hooks)
}

func (e *terraformEngine) planTo(ctx context.Context, step, artifact string, extraArgs []string, params map[string]string, hooks Hooks) (string, error) {
	varsPath, err := e.writeVarsFile(params)
	if err != nil {
		return "", err
	}

	args := []string{e.binary, "plan", "-input=false"}
	args = append(args, extraArgs...)
	args = append(args,
		fmt.Sprintf("-var-file=%q", varsPath),
		fmt.Sprintf("-out=%q", filepath.Join(e.dirs.ScratchDir, artifact)),
	)
	return e.runStep(ctx, step, strings.Join(args, " "), hooks)
}

// ApplyFromPlan implements Engine.
func (e *terraformEngine) ApplyFromPlan(ctx context.Context, hooks Hooks) (string, error) {
	return e.applyArtifact(ctx, "apply", tfPlanArchiveName, hooks)
}

// DestroyFromPlan implements Engine.
func (e *terraformEngine) DestroyFromPlan(ctx context.Context, hooks Hooks) (string, error) {
	return e.applyArtifact(ctx, "destroy", tfDestroyPlanArchiveName, hooks)
}

// applyArtifact applies a saved plan artifact and appends the statistics
// collection so the resource count is captured atomically with the
// mutation. The count lands in the statistics file even when the apply
// fails, letting a caller report partial progress.
func (e *terraformEngine) applyArtifact(ctx context.Context, step, artifact string, hooks Hooks) (string, error) {
	base := strings.Join([]string{
		fmt.Sprintf("%s apply -input=false -auto-approve %q || rc=$?",
			e.binary, filepath.Join(e.dirs.ScratchDir, artifact)),
		fmt.Sprintf("%s > %q", e.statisticsCommand(), e.statisticsPath()),
		"test ${rc:-0} -eq 0",
	}, "\n")
	return e.runStep(ctx, step, base, hooks)
}

// statisticsCommand counts live managed resources: state list minus
// data-source entries.
func (e *terraformEngine) statisticsCommand() string {
	return fmt.Sprintf(`%s state list 2>/dev/null | grep -v '^data\.' | grep -v '\.data\.' | wc -l | tr -d ' '`, e.binary)
}

// Output implements Engine.
func (e *terraformEngine) Output(ctx context.Context, hooks Hooks, extraFileOutputs map[string]bool) (*OutputSet, error) {
	base := fmt.Sprintf("%s output -json > %q", e.binary, e.outputPath())
	if _, err := e.runStep(ctx, "output", base, hooks); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(e.outputPath())
	if err != nil {
		return nil, fmt.Errorf("reading output dump: %w", err)
	}
	return BuildOutputSet(raw, extraFileOutputs)
}

// Statistics implements Engine.
func (e *terraformEngine) Statistics(ctx context.Context) (int, error) {
	out, err := runner.Run(ctx, e.statisticsCommand(), runner.Options{
		Dir:        e.dirs.InitDir,
		Env:        e.environment,
		ExtraPaths: e.opts.ExtraPaths,
		Sink:       e.opts.Sink,
		Logger:     e.logger,
	}, e.opts.Signals)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing resource count %q: %w", strings.TrimSpace(out), err)
	}
	return n, nil
}

// ReadStatisticsFromFile implements Engine.
func (e *terraformEngine) ReadStatisticsFromFile() int {
	return e.readStatisticsFile()
}

// ParseApplyPlan implements Engine.
func (e *terraformEngine) ParseApplyPlan() (*plan.Summary, error) {
	f, err := plan.OpenTerraformArchive(filepath.Join(e.dirs.ScratchDir, tfPlanArchiveName))
	if err != nil {
		return nil, err
	}
	return plan.Summarize(f), nil
}

// ParseDestroyPlan implements Engine.
func (e *terraformEngine) ParseDestroyPlan() (*plan.Summary, error) {
	f, err := plan.OpenTerraformArchive(filepath.Join(e.dirs.ScratchDir, tfDestroyPlanArchiveName))
	if err != nil {
		return nil, err
	}
	return plan.Summarize(f), nil
}
