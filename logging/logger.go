package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a LogLevel.
// Unknown values yield LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface used across agentrelay.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// LoggerConfig configures construction of a slog-backed Logger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewSlogLogger builds a slog-backed Logger from a config (or defaults if nil).
func NewSlogLogger(cfg *LoggerConfig) Logger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return NewSlogAdapter(slog.New(handler))
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RelayLogger decorates a Logger with fixed context attributes and domain
// helpers. It is cheap to copy via the With* methods.
type RelayLogger struct {
	base  Logger
	attrs []any
}

// NewRelayLogger wraps l, substituting a NoOpLogger when l is nil.
func NewRelayLogger(l Logger) *RelayLogger {
	if l == nil {
		l = NoOpLogger{}
	}
	if rl, ok := l.(*RelayLogger); ok {
		return rl
	}
	return &RelayLogger{base: l}
}

func (l *RelayLogger) with(kv ...any) *RelayLogger {
	attrs := make([]any, 0, len(l.attrs)+len(kv))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, kv...)
	return &RelayLogger{base: l.base, attrs: attrs}
}

// WithComponent sets the logical component (directory, engine, runner, ...).
func (l *RelayLogger) WithComponent(c string) *RelayLogger { return l.with("component", c) }

// WithConversation attaches a conversation identifier.
func (l *RelayLogger) WithConversation(id string) *RelayLogger {
	return l.with("conversation_id", id)
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *RelayLogger) WithContext(key string, value any) *RelayLogger { return l.with(key, value) }

func (l *RelayLogger) merge(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// Debug logs at debug level.
func (l *RelayLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.merge(args)...) }

// Info logs at info level.
func (l *RelayLogger) Info(msg string, args ...any) { l.base.Info(msg, l.merge(args)...) }

// Warn logs at warn level.
func (l *RelayLogger) Warn(msg string, args ...any) { l.base.Warn(msg, l.merge(args)...) }

// Error logs at error level.
func (l *RelayLogger) Error(msg string, args ...any) { l.base.Error(msg, l.merge(args)...) }

// LogDispatch records the outcome of opening one sub-task stream.
func (l *RelayLogger) LogDispatch(agent, subTaskID string, resumed bool, err error) {
	if err != nil {
		l.Warn("Sub-task dispatch failed", "agent", agent, "sub_task_id", subTaskID, "resumed", resumed, "error", err.Error())
		return
	}
	l.Info("Sub-task dispatched", "agent", agent, "sub_task_id", subTaskID, "resumed", resumed)
}

// LogOracleCall records latency and outcome of a reasoning oracle call.
func (l *RelayLogger) LogOracleCall(oracle string, dur time.Duration, err error) {
	if err != nil {
		l.Warn("Oracle call failed, using fallback", "oracle", oracle, "duration", dur, "error", err.Error())
		return
	}
	l.Debug("Oracle call completed", "oracle", oracle, "duration", dur)
}

// LogHealthProbe records the result of probing one agent.
func (l *RelayLogger) LogHealthProbe(agent, address string, dur time.Duration, err error) {
	if err != nil {
		l.Warn("Agent unreachable", "agent", agent, "address", address, "duration", dur, "error", err.Error())
		return
	}
	l.Debug("Agent reachable", "agent", agent, "address", address, "duration", dur)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *RelayLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Debug("Operation completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

type ctxKey struct{}

// IntoContext stores l in ctx for code paths without an injected logger.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by IntoContext or a NoOpLogger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return NoOpLogger{}
}
