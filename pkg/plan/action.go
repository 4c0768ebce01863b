// Package plan parses backend-produced plan artifacts and normalizes each
// backend's native change vocabulary into a single canonical action taxonomy.
//
// Two artifact families are supported: the Terraform/OpenTofu plan archive (a
// zip containing a binary-encoded plan message and a JSON prior-state
// document) and the Pulumi plan/preview JSON documents. Both are exposed
// through the same File interface so callers can compute change summaries
// without knowing which backend produced the artifact.
package plan

// Action is the canonical change type every backend-specific plan
// representation normalizes into.
type Action string

const (
	// ActionNoop indicates no change to the resource.
	ActionNoop Action = "noop"

	// ActionCreate indicates a new resource will be created.
	ActionCreate Action = "create"

	// ActionUpdate indicates the resource will be updated in place.
	ActionUpdate Action = "update"

	// ActionDelete indicates the resource will be destroyed.
	ActionDelete Action = "delete"

	// ActionReplace indicates the resource will be destroyed and recreated.
	// Both orderings (delete-then-create and create-then-delete) collapse
	// into this single value; the original ordering is not recoverable.
	ActionReplace Action = "replace"
)

// Actions lists every canonical action, in summary display order.
var Actions = []Action{ActionNoop, ActionCreate, ActionUpdate, ActionDelete, ActionReplace}

// TerraformAction is the native six-way action encoding carried by the binary
// plan message inside a Terraform-family plan archive.
type TerraformAction int32

// Native Terraform plan actions as encoded in the plan wire format. The gap
// at 4 is reserved in the upstream encoding.
const (
	TerraformNoop             TerraformAction = 0
	TerraformCreate           TerraformAction = 1
	TerraformRead             TerraformAction = 2
	TerraformUpdate           TerraformAction = 3
	TerraformDelete           TerraformAction = 5
	TerraformDeleteThenCreate TerraformAction = 6
	TerraformCreateThenDelete TerraformAction = 7
)

// NormalizeTerraform maps a native Terraform-family action onto the canonical
// taxonomy. The mapping is many-to-one: both replace orderings produce
// ActionReplace, and the ordering cannot be recovered afterwards.
func NormalizeTerraform(a TerraformAction) Action {
	switch a {
	case TerraformCreate:
		return ActionCreate
	case TerraformUpdate:
		return ActionUpdate
	case TerraformDelete:
		return ActionDelete
	case TerraformDeleteThenCreate, TerraformCreateThenDelete:
		return ActionReplace
	default:
		return ActionNoop
	}
}

// NormalizePulumi maps a Pulumi step op string onto the canonical taxonomy.
// Unrecognized op strings normalize to ActionNoop rather than failing, so a
// newer Pulumi release introducing an op we do not know about cannot crash a
// summary.
func NormalizePulumi(op string) Action {
	switch op {
	case "create":
		return ActionCreate
	case "update":
		return ActionUpdate
	case "delete":
		return ActionDelete
	case "replace", "create-replacement", "delete-replaced":
		return ActionReplace
	case "same":
		return ActionNoop
	default:
		return ActionNoop
	}
}
