// Package listener holds the built-in observers attached to every run:
// structured logging, event bus publication, persisted run history and a
// per-key circuit breaker.
package listener
