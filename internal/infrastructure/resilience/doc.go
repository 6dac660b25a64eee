// Package resilience provides failure-handling primitives for the calls
// that leave the process: the model endpoint and device bridge commands.
//
// Two primitives are offered:
//   - Breaker: a circuit breaker guarding the model endpoint, so a dead or
//     rate-limited endpoint fails fast instead of stalling every loop
//   - Retry: bounded exponential backoff for transient failures, with a
//     fixed maximum attempt count that surfaces as a terminal error rather
//     than a silent skip
//
// Example Usage:
//
//	policy := resilience.Retry{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
//	err := policy.Do(ctx, func() error { return backend.Tap(ctx, id, x, y) })
package resilience
