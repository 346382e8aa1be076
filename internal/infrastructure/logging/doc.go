// Package logging provides structured logging for Allokapri Workspace Core.
//
// This package wraps Go's standard log/slog package so every component logs
// through the same handler with the same default fields.
//
// JSON is the default format; text is meant for local development. Every
// record carries service and version fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("login succeeded", "user_id", id)
//	auth.SeedOwner(ctx, users, opts, logger.Logger)
//
// # Security
//
// Attributes named password, secret, token, authorization and similar are
// replaced with [REDACTED] by the handler. That is a backstop: log the
// subject id and failure kind, never the credential itself.
package logging
