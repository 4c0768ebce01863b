// Package engine drives the underlying IaC CLI tool (Terraform, OpenTofu or
// Pulumi) through its lifecycle: Init, Validate, Plan, PlanDestroy,
// ApplyFromPlan, DestroyFromPlan, Output and Statistics. One concrete engine
// exists per backend family behind the shared Engine interface, selected by
// an explicit factory keyed on the backend name.
//
// Lifecycle state is deliberately file-backed rather than in-memory: each
// step reads and writes well-known files under the module's scratch
// directory, so a lifecycle can span multiple agent process restarts as long
// as the scratch directory persists. The on-disk contract is:
//
//	env.sh               resolved environment, one export KEY=<json> line per key
//	init.sh, plan.sh, plan_destroy.sh, apply.sh, destroy.sh, output.sh
//	                     composed scripts, persisted for operator inspection only
//	snapcd.tfvars        flat key=value parameters file, overwritten per Plan
//	tfplan.zip           Terraform-family apply-plan artifact
//	tfplan_destroy.zip   Terraform-family destroy-plan artifact
//	plan.json            Pulumi apply-plan artifact
//	preview_destroy.json Pulumi destroy-preview artifact
//	output.json          raw backend output dump
//	statistics.txt       single plain-text integer resource count
//	stack_export.json    Pulumi deployment export backing statistics
//
// The engine performs no variable resolution and no hook validation itself;
// resolved environments, resolved parameters and pre-approved hook scripts
// arrive from external collaborators. Lifecycle calls against the same
// module are not serialized here either: the caller-side one-in-flight-job
// registry owns that, and two racing Plan calls simply last-writer-win on
// the shared artifacts.
package engine
