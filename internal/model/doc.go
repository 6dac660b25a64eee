// Package model holds the vision-language model client and the prompt
// machinery around it: system prompts per language, multimodal message
// assembly with bounded history, and an OpenAI-compatible chat client
// with streaming, transport retries, rate limiting, and a circuit
// breaker.
package model
