// Package infrastructure holds process-wide plumbing: the slog logger, trace id
// propagation and OpenTelemetry providers.
package infrastructure
