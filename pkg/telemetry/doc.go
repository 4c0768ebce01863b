// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the agent. Lifecycle steps are the unit of
// observation: every init, plan, apply, destroy and output execution gets a
// log scope, a duration observation and optionally a span.
package telemetry
