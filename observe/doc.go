// Package observe provides the observability primitives used by loadcache.
//
// It wires OpenTelemetry tracer and meter providers from a small Config and
// offers a minimal structured Logger. The cache package accepts the tracer,
// meter and logger separately, so callers that already own providers never
// need an Observer.
package observe
