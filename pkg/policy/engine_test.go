package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapcd/agent/pkg/plan"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return gate
}

func applyInput(summary *plan.Summary, limits Limits) *Input {
	return &Input{
		Summary:   summary,
		Limits:    limits,
		Backend:   "terraform",
		ModuleID:  "mod-1",
		Operation: "apply",
	}
}

func TestGateAllowsWithinBudget(t *testing.T) {
	gate := newTestGate(t)

	verdict, err := gate.EvaluatePlan(context.Background(), applyInput(
		&plan.Summary{Existing: 10, Creates: 2, Deletes: 1},
		Limits{MaxDeletes: 5, MaxReplaces: 5},
	))
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !verdict.Allowed {
		t.Errorf("Allowed = false, violations = %v", verdict.Violations)
	}
}

func TestGateDeniesOverDeleteBudget(t *testing.T) {
	gate := newTestGate(t)

	verdict, err := gate.EvaluatePlan(context.Background(), applyInput(
		&plan.Summary{Existing: 20, Deletes: 7},
		Limits{MaxDeletes: 5},
	))
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if verdict.Allowed {
		t.Fatal("Allowed = true, want denial over delete budget")
	}
	if len(verdict.Violations) == 0 {
		t.Fatal("Violations empty for denied plan")
	}
	if verdict.Violations[0].Policy != "change-budget" {
		t.Errorf("Violations[0].Policy = %q, want change-budget", verdict.Violations[0].Policy)
	}
}

func TestGateZeroLimitMeansUnlimited(t *testing.T) {
	gate := newTestGate(t)

	verdict, err := gate.EvaluatePlan(context.Background(), applyInput(
		&plan.Summary{Existing: 100, Deletes: 50, Replaces: 50},
		Limits{},
	))
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !verdict.Allowed {
		t.Errorf("Allowed = false with zero limits, violations = %v", verdict.Violations)
	}
}

func TestGateWarnsOnFullDeletion(t *testing.T) {
	gate := newTestGate(t)

	verdict, err := gate.EvaluatePlan(context.Background(), applyInput(
		&plan.Summary{Existing: 3, Deletes: 3},
		Limits{},
	))
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	// The full-deletion policy is warning-severity: surfaced but not
	// blocking.
	if !verdict.Allowed {
		t.Errorf("Allowed = false, warnings must not block")
	}
	found := false
	for _, v := range verdict.Violations {
		if v.Policy == "full-deletion-warning" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("Violations = %v, want full-deletion warning", verdict.Violations)
	}
}

func TestGateCheckReturnsDeniedError(t *testing.T) {
	gate := newTestGate(t)

	err := gate.Check(context.Background(), applyInput(
		&plan.Summary{Existing: 20, Replaces: 9},
		Limits{MaxReplaces: 2},
	))
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Check() error = %v, want DeniedError", err)
	}
	if len(denied.Violations) == 0 {
		t.Error("DeniedError.Violations empty")
	}
}

func TestGateLoadsCustomPolicy(t *testing.T) {
	gate := newTestGate(t)

	custom := Policy{
		Name:     "no-create",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package snapcd.policies.no_create

import rego.v1

deny contains "creates are frozen" if {
	input.summary.creates > 0
}
`,
	}
	if err := gate.LoadPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	verdict, err := gate.EvaluatePlan(context.Background(), applyInput(
		&plan.Summary{Creates: 1},
		Limits{},
	))
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if verdict.Allowed {
		t.Fatal("Allowed = true, want custom policy denial")
	}
}

func TestGateRejectsBrokenPolicy(t *testing.T) {
	gate := newTestGate(t)

	broken := Policy{Name: "broken", Enabled: true, Rego: "this is not rego"}
	if err := gate.LoadPolicies(context.Background(), []Policy{broken}); err == nil {
		t.Fatal("LoadPolicies() error = nil, want compile failure")
	}
}

func TestLoaderLoadDir(t *testing.T) {
	dir := t.TempDir()
	rego := `# Denies everything.
package snapcd.policies.deny_all

import rego.v1

deny contains "nope" if { true }
`
	if err := os.WriteFile(filepath.Join(dir, "deny_all.rego"), []byte(rego), 0o600); err != nil {
		t.Fatal(err)
	}
	// Non-rego files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o600); err != nil {
		t.Fatal(err)
	}

	policies, err := NewLoader(zerolog.Nop()).LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("LoadDir() returned %d policies, want 1", len(policies))
	}
	if policies[0].Name != "deny_all" {
		t.Errorf("Name = %q, want deny_all", policies[0].Name)
	}
	if policies[0].Description != "Denies everything." {
		t.Errorf("Description = %q", policies[0].Description)
	}
}

func TestLoaderLoadDirMissing(t *testing.T) {
	if _, err := NewLoader(zerolog.Nop()).LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("LoadDir() error = nil, want read failure")
	}
}
