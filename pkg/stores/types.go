package stores

import (
	"context"
	"time"
)

// StepStatus represents the outcome of a recorded lifecycle step.
type StepStatus string

const (
	StepStatusSuccess  StepStatus = "success"
	StepStatusFailure  StepStatus = "failure"
	StepStatusCanceled StepStatus = "canceled"
)

// StepRecord is one executed lifecycle step. Summary and Stderr are
// nullable: a plan step carries a change summary, a failed step carries the
// tool's stderr, most steps carry neither.
type StepRecord struct {
	ID            string     `json:"id"`
	ModuleID      string     `json:"module_id"`
	StackName     string     `json:"stack_name"`
	NamespaceName string     `json:"namespace_name"`
	ModuleName    string     `json:"module_name"`
	Backend       string     `json:"backend"`
	Step          string     `json:"step"`
	Status        StepStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
	Summary       *string    `json:"summary,omitempty"` // JSON blob
	Stderr        *string    `json:"stderr,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Duration is the step's wall-clock execution time.
func (r *StepRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Store persists the agent's run history. Writes are best-effort from the
// caller's perspective: a failed record must never fail the step it records.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// RecordStep inserts one step record. The record's ID is assigned here
	// if empty.
	RecordStep(ctx context.Context, rec *StepRecord) error

	// ListSteps returns the most recent records for one module, newest
	// first, up to limit.
	ListSteps(ctx context.Context, moduleID string, limit int) ([]*StepRecord, error)

	// LastStep returns the most recent record of one step kind for a
	// module, or nil when none exists.
	LastStep(ctx context.Context, moduleID, step string) (*StepRecord, error)

	// Close releases the database.
	Close() error
}
