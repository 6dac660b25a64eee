// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Loops annotate their loggers with the device id so that interleaved
// output from concurrent devices stays attributable.
//
// Example Usage:
//
//	logger := logging.NewDefault().WithDevice("emulator-5554")
//	logger.Info("step executed", zap.Int("step", 3))
package logging
