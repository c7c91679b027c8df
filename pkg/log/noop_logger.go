package log

var _ Logger = &NoopLogger{}

// NoopLogger is a Logger implementation that discards all log messages.
// It is used as a default where no logger is supplied and in tests that
// do not assert on log output.
type NoopLogger struct{}

// NewNoopLogger creates a new NoopLogger instance.
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(msg string, keysAndValues ...any) {}
func (l *NoopLogger) Info(msg string, keysAndValues ...any)  {}
func (l *NoopLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *NoopLogger) Error(msg string, keysAndValues ...any) {}
func (l *NoopLogger) Fatal(msg string, keysAndValues ...any) {}

func (l *NoopLogger) WithKV(key string, value any) Logger { return l }
func (l *NoopLogger) WithName(name string) Logger         { return l }
