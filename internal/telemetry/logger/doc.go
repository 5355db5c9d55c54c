// Package logger configures structured logging for ledgersnap.
//
//   - logger.go: slog handler setup, file rotation and runtime level changes
//   - redact.go: sensitive attribute redaction
//   - hclog.go: adapter for hashicorp libraries that log through hclog or
//     the standard log package
//
// Components receive a *slog.Logger; the process level is shared through a
// single slog.LevelVar so that a config reload can change it at runtime.
package logger
