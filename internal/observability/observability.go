package observability

// Package observability provides structured logging, Prometheus metrics,
// and health checking capabilities for pygate.
//
// Key features:
// - Structured JSON logging with configurable log levels
// - Prometheus metrics for monitoring scans, consent, policy, and audit operations
// - Health checks for component status monitoring
// - HTTP endpoints for /metrics, /health, and /ready
