package policy

// BuiltinPolicies returns the policies every gate starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		changeBudgetPolicy(),
		destroyEverythingPolicy(),
	}
}

// changeBudgetPolicy denies plans whose delete or replace counts exceed the
// configured limits. A limit of 0 means unlimited.
func changeBudgetPolicy() Policy {
	return Policy{
		Name:        "change-budget",
		Description: "Caps the number of deletes and replaces a plan may carry",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package snapcd.policies.change_budget

import rego.v1

deny contains violation if {
	input.limits.max_deletes > 0
	input.summary.deletes > input.limits.max_deletes
	violation := {
		"message": sprintf("plan deletes %d resources, budget allows %d", [input.summary.deletes, input.limits.max_deletes]),
		"severity": "error",
	}
}

deny contains violation if {
	input.limits.max_replaces > 0
	input.summary.replaces > input.limits.max_replaces
	violation := {
		"message": sprintf("plan replaces %d resources, budget allows %d", [input.summary.replaces, input.limits.max_replaces]),
		"severity": "error",
	}
}
`,
	}
}

// destroyEverythingPolicy warns when an apply-time plan would delete every
// existing resource, a common sign of lost state or a bad backend config.
func destroyEverythingPolicy() Policy {
	return Policy{
		Name:        "full-deletion-warning",
		Description: "Warns when an apply plan deletes every existing resource",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package snapcd.policies.full_deletion

import rego.v1

deny contains violation if {
	input.operation == "apply"
	input.summary.existing > 0
	input.summary.deletes >= input.summary.existing
	violation := {
		"message": sprintf("plan deletes all %d existing resources", [input.summary.existing]),
		"severity": "warning",
	}
}
`,
	}
}
