// Package logging provides structured logging for sessiond.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - An ALERT level above ERROR for theft signals
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error, alert
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log raw refresh secrets, access credentials, fingerprints or
// passwords. Log credential and account identifiers only.
package logging
