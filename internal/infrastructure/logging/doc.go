// Package logging provides structured logging for lhkeeper.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Keep-alive progress lines are governed separately by keepalive.verbosity;
// the log level only filters what reaches the handler.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("keep-alive started", "lighthouse_id", id)
//	logger.Error("cycle failed", "error", err)
package logging
