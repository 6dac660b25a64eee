// Package monitoring provides Prometheus metrics for the automation
// service.
//
// Metric groups:
//   - HTTP: request counts and latency for the API surface
//   - Loop: active loops, executed steps, per-step latency, decode retries
//   - Model: model call counts and latency
//   - Backend: device bridge command counts and latency per backend/op
//   - System: uptime, WebSocket subscriber count
//
// All metrics are registered with the default registry and exposed via
// the /metrics endpoint.
package monitoring
