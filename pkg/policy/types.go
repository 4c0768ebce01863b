// Package policy gates plan application behind Rego policies. The gate is
// evaluated against a parsed change summary before apply or destroy; deny
// results from any loaded policy block the mutation.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/snapcd/agent/pkg/plan"
)

// Severity classifies how a policy's deny results are treated.
type Severity string

const (
	// SeverityWarning surfaces violations without blocking.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the mutation.
	SeverityError Severity = "error"
)

// Policy is one named Rego policy.
type Policy struct {
	// Name identifies the policy; file-loaded policies use the file base
	// name.
	Name string `json:"name"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty"`

	// Rego is the policy source. Deny rules live under a `deny` set in the
	// policy's package.
	Rego string `json:"rego"`

	// Severity applies to deny results that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled policies participate in evaluation.
	Enabled bool `json:"enabled"`
}

// Violation is one deny result from one policy.
type Violation struct {
	// Policy is the policy that produced the violation.
	Policy string `json:"policy"`

	// Message is the human-readable denial reason.
	Message string `json:"message"`

	// Severity is the violation's effective severity.
	Severity Severity `json:"severity"`
}

// Verdict is the outcome of evaluating all loaded policies against one plan.
type Verdict struct {
	// Allowed is false when any error-severity violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists every deny result, including warnings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies whose evaluation itself failed. Evaluation
	// failures never block; they degrade to warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Limits are the change-budget inputs consumed by the built-in policy.
type Limits struct {
	// MaxDeletes caps plan deletes; 0 means unlimited.
	MaxDeletes int `json:"max_deletes"`

	// MaxReplaces caps plan replaces; 0 means unlimited.
	MaxReplaces int `json:"max_replaces"`
}

// Input is the document handed to Rego evaluation.
type Input struct {
	// Summary is the parsed change summary under evaluation.
	Summary *plan.Summary `json:"summary"`

	// Limits carries the configured change budget.
	Limits Limits `json:"limits"`

	// Backend names the tool that produced the plan.
	Backend string `json:"backend"`

	// ModuleID identifies the module the plan targets.
	ModuleID string `json:"module_id"`

	// Operation is "apply" or "destroy".
	Operation string `json:"operation"`
}

// DeniedError is returned when a plan fails the policy gate.
type DeniedError struct {
	// Violations are the blocking and non-blocking deny results.
	Violations []Violation
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("plan denied by policy: %s", strings.Join(parts, "; "))
}
