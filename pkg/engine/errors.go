package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/snapcd/agent/pkg/runner"
)

// InitRequiredError indicates a lifecycle call ran before Init persisted the
// module's resolved environment. This is a configuration-ordering error, not
// a generic I/O failure.
type InitRequiredError struct {
	// ScratchDir is the scratch directory that was missing the
	// environment file.
	ScratchDir string
}

// Error implements the error interface.
func (e *InitRequiredError) Error() string {
	return fmt.Sprintf("no resolved environment found under %s: Init must run first", e.ScratchDir)
}

// ValidationError is the distinguished failure subtype for the Validate
// step, carrying enough context for callers to render it differently from a
// generic execution failure.
type ValidationError struct {
	// Dir is the module directory that failed validation.
	Dir string

	// Err is the underlying execution failure.
	Err error
}

// Error implements the error interface. The underlying tool's diagnostics
// pass through verbatim.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in %s: %v", e.Dir, e.Err)
}

// Unwrap returns the underlying execution failure.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// OutputSetError aggregates per-property failures from output-set
// construction. One malformed output must not hide the rest, so every
// property is attempted before this is returned.
type OutputSetError struct {
	// Failures maps output names to their parse errors.
	Failures map[string]error
}

// Error implements the error interface, listing every failed property in
// name order so the message is stable between runs.
func (e *OutputSetError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("parsing %d output(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// IsCanceled reports whether err represents subprocess cancellation rather
// than a hard failure. Callers must branch on this before generic failure
// handling.
func IsCanceled(err error) bool {
	var canceled *runner.CanceledError
	return errors.As(err, &canceled)
}
