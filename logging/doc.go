// Package logging provides a minimal logging interface and adapters for agentrelay.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the directory, engine and runner use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a sugared zap logger
//   - RelayLogger adding fixed context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
package logging
