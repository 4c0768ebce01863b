package plan

import "testing"

func TestNormalizeTerraform(t *testing.T) {
	tests := []struct {
		name   string
		native TerraformAction
		want   Action
	}{
		{"noop", TerraformNoop, ActionNoop},
		{"create", TerraformCreate, ActionCreate},
		{"read", TerraformRead, ActionNoop},
		{"update", TerraformUpdate, ActionUpdate},
		{"delete", TerraformDelete, ActionDelete},
		{"delete_then_create", TerraformDeleteThenCreate, ActionReplace},
		{"create_then_delete", TerraformCreateThenDelete, ActionReplace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTerraform(tt.native); got != tt.want {
				t.Errorf("NormalizeTerraform(%d) = %q, want %q", tt.native, got, tt.want)
			}
		})
	}
}

func TestNormalizeTerraformReplaceOrderingsCollapse(t *testing.T) {
	// Both replace orderings must produce the same canonical action; the
	// mapping is intentionally non-injective.
	a := NormalizeTerraform(TerraformDeleteThenCreate)
	b := NormalizeTerraform(TerraformCreateThenDelete)
	if a != b {
		t.Fatalf("replace orderings normalized differently: %q vs %q", a, b)
	}
	if a != ActionReplace {
		t.Fatalf("replace orderings normalized to %q, want %q", a, ActionReplace)
	}
}

func TestNormalizeTerraformAlwaysCanonical(t *testing.T) {
	natives := []TerraformAction{
		TerraformNoop, TerraformCreate, TerraformRead, TerraformUpdate,
		TerraformDelete, TerraformDeleteThenCreate, TerraformCreateThenDelete,
	}
	canonical := map[Action]bool{
		ActionNoop: true, ActionCreate: true, ActionUpdate: true,
		ActionDelete: true, ActionReplace: true,
	}
	for _, native := range natives {
		if got := NormalizeTerraform(native); !canonical[got] {
			t.Errorf("NormalizeTerraform(%d) = %q, not a canonical action", native, got)
		}
	}
}

func TestNormalizePulumi(t *testing.T) {
	tests := []struct {
		op   string
		want Action
	}{
		{"same", ActionNoop},
		{"create", ActionCreate},
		{"update", ActionUpdate},
		{"delete", ActionDelete},
		{"replace", ActionReplace},
		{"create-replacement", ActionReplace},
		{"delete-replaced", ActionReplace},
		{"refresh", ActionNoop},
		{"some-future-op", ActionNoop},
		{"", ActionNoop},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			if got := NormalizePulumi(tt.op); got != tt.want {
				t.Errorf("NormalizePulumi(%q) = %q, want %q", tt.op, got, tt.want)
			}
		})
	}
}
