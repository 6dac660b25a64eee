// Package middleware provides the gin middleware stack for the API:
// CORS policy and per-client rate limiting. Request metrics middleware
// lives in the monitoring package next to its collectors.
package middleware
