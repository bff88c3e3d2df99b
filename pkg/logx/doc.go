// Package logx configures coursebot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Throttle rate-limits repeated warnings on hot paths.
package logx
