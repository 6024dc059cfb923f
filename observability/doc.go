// Package observability provides OpenTelemetry instrumentation for Loom
// as an opt-in extension. The tracing extension opens one span per
// workflow run and annotates it with step lifecycle events.
package observability
