// Package config provides 12-factor configuration management.
//
// Configuration is loaded from environment variables with sensible
// defaults. An optional TOML file can be overlaid on top, mirroring the
// persisted settings file some deployments keep next to the binary.
//
// Configuration Sections:
//   - Server: HTTP API settings (port, host)
//   - Model: vision-language model endpoint and request behavior
//   - Device: backend binaries, timeouts, text chunking, marker patterns
//   - Agent: step budget, decode retries, inter-step delay, language
//   - Logging: log level and output format
//   - RateLimit: per-IP API rate limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	_ = config.LoadFile(cfg, "phonepilot.toml")
package config
