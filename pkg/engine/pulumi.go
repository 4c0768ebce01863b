package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapcd/agent/pkg/plan"
)

// Pulumi artifact names under the scratch directory. The apply-time plan and
// the destroy-time preview are different JSON shapes, hence different files.
const (
	pulumiPlanFileName    = "plan.json"
	pulumiPreviewFileName = "preview_destroy.json"
	pulumiExportFileName  = "stack_export.json"
)

// pulumiEngine drives the Pulumi CLI. Stderr is tolerated on success because
// Pulumi routinely writes progress and diagnostic text there.
type pulumiEngine struct {
	core
	binary string
}

var _ Engine = (*pulumiEngine)(nil)

func newPulumiEngine(binary string, dirs ModuleDirs, opts Options, logger zerolog.Logger) *pulumiEngine {
	return &pulumiEngine{
		core: core{
			dirs:         dirs,
			opts:         opts,
			logger:       logger,
			strictStderr: false,
		},
		binary: binary,
	}
}

// Init implements Engine: login according to the configured mode, then
// select (creating if needed) the stack.
func (e *pulumiEngine) Init(ctx context.Context, env map[string]string, hooks Hooks, backend BackendConfiguration, flags Flags) (string, error) {
	if err := e.setEnvironment(env); err != nil {
		return "", err
	}

	var lines []string
	switch backend.LoginMode {
	case PulumiLoginCloud:
		lines = append(lines, e.binary+" login")
	case PulumiLoginLocal:
		lines = append(lines, e.binary+" login --local")
	case PulumiLoginCustom:
		lines = append(lines, fmt.Sprintf("%s login %q", e.binary, backend.LoginURL))
	case PulumiLoginNone, "":
		// Credentials are expected to be present already. The zero value
		// means the caller configured no login at all.
	default:
		return "", fmt.Errorf("unknown pulumi login mode %q", backend.LoginMode)
	}
	if backend.StackName != "" {
		lines = append(lines, fmt.Sprintf("%s stack select --create %q", e.binary, backend.StackName))
	}
	if len(lines) == 0 {
		lines = append(lines, `echo "Nothing to initialize"`)
	}

	return e.runStep(ctx, "init", strings.Join(lines, "\n"), hooks)
}

// Validate implements Engine. Pulumi has no direct validate equivalent, so a
// preview stands in best-effort.
func (e *pulumiEngine) Validate(ctx context.Context, hooks Hooks) (string, error) {
	out, err := e.runStep(ctx, "validate", e.binary+" preview --non-interactive", hooks)
	if err != nil && !IsCanceled(err) {
		return out, &ValidationError{Dir: e.dirs.InitDir, Err: err}
	}
	return out, err
}

// Plan implements Engine.
func (e *pulumiEngine) Plan(ctx context.Context, params map[string]string, hooks Hooks) (string, error) {
	if _, err := e.writeVarsFile(params); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s preview --non-interactive --save-plan %q%s",
		e.binary, filepath.Join(e.dirs.ScratchDir, pulumiPlanFileName), configArgs(params))
	return e.runStep(ctx, "plan", base, hooks)
}

// PlanDestroy implements Engine: a destroy preview saved as JSON, distinct
// from the apply-plan artifact.
func (e *pulumiEngine) PlanDestroy(ctx context.Context, params map[string]string, hooks Hooks) (string, error) {
	if _, err := e.writeVarsFile(params); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s destroy --non-interactive --preview-only --json%s > %q",
		e.binary, configArgs(params), filepath.Join(e.dirs.ScratchDir, pulumiPreviewFileName))
	return e.runStep(ctx, "plan_destroy", base, hooks)
}

// configArgs renders resolved parameters as repeated --config arguments,
// sorted by key for stable command lines.
func configArgs(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " --config %q", k+"="+params[k])
	}
	return b.String()
}

// ApplyFromPlan implements Engine.
func (e *pulumiEngine) ApplyFromPlan(ctx context.Context, hooks Hooks) (string, error) {
	base := fmt.Sprintf("%s up --yes --non-interactive --skip-preview --plan %q",
		e.binary, filepath.Join(e.dirs.ScratchDir, pulumiPlanFileName))
	return e.mutateAndCount(ctx, "apply", base, hooks)
}

// DestroyFromPlan implements Engine.
func (e *pulumiEngine) DestroyFromPlan(ctx context.Context, hooks Hooks) (string, error) {
	base := fmt.Sprintf("%s destroy --yes --non-interactive", e.binary)
	return e.mutateAndCount(ctx, "destroy", base, hooks)
}

// mutateAndCount runs the mutation with a stack export appended so the
// deployment document is captured even when the mutation fails, then
// converts the export into the statistics file. The conversion is
// best-effort and never masks the mutation's own failure.
func (e *pulumiEngine) mutateAndCount(ctx context.Context, step, mutation string, hooks Hooks) (string, error) {
	base := strings.Join([]string{
		mutation + " || rc=$?",
		fmt.Sprintf("%s stack export --file %q", e.binary, filepath.Join(e.dirs.ScratchDir, pulumiExportFileName)),
		"test ${rc:-0} -eq 0",
	}, "\n")

	out, err := e.runStep(ctx, step, base, hooks)
	e.writeStatisticsFromExport()
	return out, err
}

// writeStatisticsFromExport converts the exported deployment document into
// the single-integer statistics file. Errors are swallowed: this is
// best-effort bookkeeping after the fact and must not hide the step's own
// outcome.
func (e *pulumiEngine) writeStatisticsFromExport() {
	count, err := e.countExportedResources()
	if err != nil {
		e.logger.Debug().Err(err).Msg("skipping statistics update from stack export")
		return
	}
	if err := os.WriteFile(e.statisticsPath(), []byte(fmt.Sprintf("%d\n", count)), 0o600); err != nil {
		e.logger.Debug().Err(err).Msg("writing statistics file failed")
	}
}

// countExportedResources counts non-root-stack resources in the exported
// deployment document.
func (e *pulumiEngine) countExportedResources() (int, error) {
	raw, err := os.ReadFile(filepath.Join(e.dirs.ScratchDir, pulumiExportFileName))
	if err != nil {
		return 0, err
	}

	var doc struct {
		Deployment struct {
			Resources []struct {
				Type string `json:"type"`
			} `json:"resources"`
		} `json:"deployment"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, err
	}

	count := 0
	for _, r := range doc.Deployment.Resources {
		if r.Type != "pulumi:pulumi:Stack" {
			count++
		}
	}
	return count, nil
}

// Output implements Engine. Pulumi's native output format is a flat
// {key: value} map with no type or sensitivity metadata, so a uniform
// wrapped shape is synthesized before the shared output-set builder runs,
// keeping one consistent shape across backends.
func (e *pulumiEngine) Output(ctx context.Context, hooks Hooks, extraFileOutputs map[string]bool) (*OutputSet, error) {
	base := fmt.Sprintf("%s stack output --json --show-secrets > %q", e.binary, e.outputPath())
	if _, err := e.runStep(ctx, "output", base, hooks); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(e.outputPath())
	if err != nil {
		return nil, fmt.Errorf("reading output dump: %w", err)
	}
	wrapped, err := wrapPulumiOutputs(raw)
	if err != nil {
		return nil, err
	}
	return BuildOutputSet(wrapped, extraFileOutputs)
}

// wrapPulumiOutputs lifts the flat output map into the wrapped
// {value, type, sensitive} shape the output-set builder expects. Every
// output is typed "string" and non-sensitive; Pulumi does not expose either
// attribute.
func wrapPulumiOutputs(raw []byte) ([]byte, error) {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decoding output dump: %w", err)
	}

	type wrappedOutput struct {
		Value     json.RawMessage `json:"value"`
		Type      string          `json:"type"`
		Sensitive bool            `json:"sensitive"`
	}
	wrapped := make(map[string]wrappedOutput, len(flat))
	for name, value := range flat {
		wrapped[name] = wrappedOutput{Value: value, Type: "string", Sensitive: false}
	}
	return json.Marshal(wrapped)
}

// Statistics implements Engine: export the deployment and count.
func (e *pulumiEngine) Statistics(ctx context.Context) (int, error) {
	base := fmt.Sprintf("%s stack export --file %q",
		e.binary, filepath.Join(e.dirs.ScratchDir, pulumiExportFileName))
	if _, err := e.runStep(ctx, "statistics", base, Hooks{}); err != nil {
		return 0, err
	}
	return e.countExportedResources()
}

// ReadStatisticsFromFile implements Engine.
func (e *pulumiEngine) ReadStatisticsFromFile() int {
	return e.readStatisticsFile()
}

// ParseApplyPlan implements Engine.
func (e *pulumiEngine) ParseApplyPlan() (*plan.Summary, error) {
	f, err := plan.OpenPulumiPlan(filepath.Join(e.dirs.ScratchDir, pulumiPlanFileName))
	if err != nil {
		return nil, err
	}
	return plan.Summarize(f), nil
}

// ParseDestroyPlan implements Engine.
func (e *pulumiEngine) ParseDestroyPlan() (*plan.Summary, error) {
	f, err := plan.OpenPulumiPreview(filepath.Join(e.dirs.ScratchDir, pulumiPreviewFileName))
	if err != nil {
		return nil, err
	}
	return plan.Summarize(f), nil
}
