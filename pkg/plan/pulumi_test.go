package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeJSON(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenPulumiPreviewStepsShape(t *testing.T) {
	// Root-stack step is excluded from every count; with no changeSummary
	// the existing count falls back to non-create steps.
	path := writeJSON(t, "preview.json", `{
		"steps": [
			{"op": "same", "type": "pulumi:pulumi:Stack", "urn": "urn:pulumi:dev::app::pulumi:pulumi:Stack::app-dev"},
			{"op": "create", "urn": "u1", "newState": {"type": "aws:s3/bucket:Bucket"}},
			{"op": "same", "urn": "u2", "newState": {"type": "aws:s3/bucket:Bucket"}}
		]
	}`)

	f, err := OpenPulumiPreview(path)
	if err != nil {
		t.Fatalf("OpenPulumiPreview() error = %v", err)
	}

	if got := f.ResourceCount(ActionCreate); got != 1 {
		t.Errorf("ResourceCount(create) = %d, want 1", got)
	}
	if got := f.ResourceCount(ActionNoop); got != 1 {
		t.Errorf("ResourceCount(noop) = %d, want 1", got)
	}
	if got := f.ExistingResourceCount(); got != 1 {
		t.Errorf("ExistingResourceCount() = %d, want 1", got)
	}
}

func TestOpenPulumiPreviewPrefersChangeSummary(t *testing.T) {
	path := writeJSON(t, "preview.json", `{
		"steps": [
			{"op": "create", "urn": "u1", "newState": {"type": "aws:s3/bucket:Bucket"}}
		],
		"changeSummary": {"same": 3, "update": 1, "delete": 1, "replace": 2, "create": 1}
	}`)

	f, err := OpenPulumiPreview(path)
	if err != nil {
		t.Fatalf("OpenPulumiPreview() error = %v", err)
	}

	// same + update + delete + replace from the backend's own summary,
	// not re-derived from the steps.
	if got := f.ExistingResourceCount(); got != 7 {
		t.Errorf("ExistingResourceCount() = %d, want 7", got)
	}
}

func TestOpenPulumiPlanResourcePlansShape(t *testing.T) {
	path := writeJSON(t, "plan.json", `{
		"resourcePlans": {
			"urn:pulumi:dev::app::pulumi:pulumi:Stack::app-dev": {"goal": {"type": "pulumi:pulumi:Stack"}, "steps": ["same"]},
			"urn:a": {"goal": {"type": "aws:s3/bucket:Bucket"}, "steps": ["create"]},
			"urn:b": {"goal": {"type": "aws:s3/bucket:Bucket"}, "steps": ["update"]},
			"urn:c": {"goal": {"type": "aws:s3/bucket:Bucket"}, "steps": ["delete-replaced", "create-replacement"]},
			"urn:d": {"goal": {"type": "aws:s3/bucket:Bucket"}, "steps": []}
		}
	}`)

	f, err := OpenPulumiPlan(path)
	if err != nil {
		t.Fatalf("OpenPulumiPlan() error = %v", err)
	}

	want := map[Action]int{
		ActionCreate:  1,
		ActionUpdate:  1,
		ActionReplace: 1,
		ActionNoop:    1,
		ActionDelete:  0,
	}
	for action, n := range want {
		if got := f.ResourceCount(action); got != n {
			t.Errorf("ResourceCount(%q) = %d, want %d", action, got, n)
		}
	}

	// Three non-create resources exist already (root stack excluded).
	if got := f.ExistingResourceCount(); got != 3 {
		t.Errorf("ExistingResourceCount() = %d, want 3", got)
	}

	wantReplaces := []ResourceChange{{Address: "urn:c", Action: ActionReplace}}
	if diff := cmp.Diff(wantReplaces, f.ResourceChanges(ActionReplace)); diff != "" {
		t.Errorf("ResourceChanges(replace) mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenPulumiPlanNoOutputDiffing(t *testing.T) {
	path := writeJSON(t, "plan.json", `{
		"resourcePlans": {
			"urn:a": {"goal": {"type": "aws:s3/bucket:Bucket"}, "steps": ["create"]}
		}
	}`)

	f, err := OpenPulumiPlan(path)
	if err != nil {
		t.Fatalf("OpenPulumiPlan() error = %v", err)
	}

	for _, action := range Actions {
		if got := f.OutputCount(action); got != 0 {
			t.Errorf("OutputCount(%q) = %d, want 0", action, got)
		}
		if got := f.OutputChanges(action); len(got) != 0 {
			t.Errorf("OutputChanges(%q) = %v, want empty", action, got)
		}
	}
}

func TestOpenPulumiPlanMalformed(t *testing.T) {
	path := writeJSON(t, "plan.json", `{"resourcePlans": [`)

	_, err := OpenPulumiPlan(path)
	var malformed *MalformedArtifactError
	if !errors.As(err, &malformed) {
		t.Fatalf("OpenPulumiPlan() error = %v, want MalformedArtifactError", err)
	}
}

func TestOpenPulumiPreviewMissingFile(t *testing.T) {
	_, err := OpenPulumiPreview(filepath.Join(t.TempDir(), "absent.json"))
	var malformed *MalformedArtifactError
	if !errors.As(err, &malformed) {
		t.Fatalf("OpenPulumiPreview() error = %v, want MalformedArtifactError", err)
	}
}

func TestSummarizeUnrecognizedOpsNeverFail(t *testing.T) {
	path := writeJSON(t, "preview.json", `{
		"steps": [
			{"op": "quantum-entangle", "urn": "u1", "newState": {"type": "aws:s3/bucket:Bucket"}}
		]
	}`)

	f, err := OpenPulumiPreview(path)
	if err != nil {
		t.Fatalf("OpenPulumiPreview() error = %v", err)
	}
	if got := f.ResourceCount(ActionNoop); got != 1 {
		t.Errorf("ResourceCount(noop) = %d, want 1 for unrecognized op", got)
	}
}
