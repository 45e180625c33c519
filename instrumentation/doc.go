// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth2 storage engine.
//
// Instrumentation is optional: storage backends accept an *Instrumentation
// via SetInstrumentation, and a disabled configuration wires no-op providers
// with zero overhead. Metric instruments cover storage operation counts and
// latency, per-entity storage sizes, and access token issuance.
package instrumentation
