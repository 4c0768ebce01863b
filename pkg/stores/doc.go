// Package stores provides the agent's local run-history persistence: every
// lifecycle step execution is recorded in a SQLite database with an embedded
// migration set. The history is an operator convenience, so recording is
// best-effort and never blocks or fails the step being recorded.
package stores
