// Package log provides the structured logging facade used across walletmux.
// The concrete implementation is backed by Uber's zap logger; a no-op
// implementation is available for tests and optional components.
package log

// Logger is a leveled, structured logger.
// keysAndValues are treated as alternating key-value pairs
// (e.g., "method", "eth_sendTransaction", "connectionID", id).
type Logger interface {
	// Debug logs low-level detail useful during development.
	Debug(msg string, keysAndValues ...any)
	// Info logs routine events and state changes.
	Info(msg string, keysAndValues ...any)
	// Warn logs unexpected situations that are not errors.
	Warn(msg string, keysAndValues ...any)
	// Error logs failures that need attention.
	Error(msg string, keysAndValues ...any)
	// Fatal logs an unrecoverable failure and terminates the program.
	Fatal(msg string, keysAndValues ...any)
	// WithKV returns a logger carrying an extra key-value pair on all future logs.
	WithKV(key string, value any) Logger
	// WithName returns a logger named after a component or subsystem.
	WithName(name string) Logger
}

// Level represents the severity level of a log message.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)
