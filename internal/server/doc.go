// Package server exposes the coordinator over HTTP: task submission and
// cancellation, device enumeration, session status, a WebSocket event
// stream, Prometheus metrics, and health probes.
package server
