// Package observability bundles the service's operational concerns:
// structured JSON logging over slog, Prometheus metrics for HTTP traffic,
// grant mutations and effective-rights resolution, dependency health
// checks, and graceful shutdown coordination.
package observability
