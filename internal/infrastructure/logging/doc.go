// Package logging provides structured logging for adbmux.
//
// It wraps log/slog so every entry carries the service name and version,
// and so components can be handed a child logger tagged with their name.
//
// Configuration:
//
//	logging:
//	  level: "warn"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stderr, stdout, discard
//
// Logs default to stderr so they never interleave with the command output
// printed on stdout.
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	registry.SetLogger(logger.Component("device"))
//	logger.Error("refresh failed", "error", err)
package logging
