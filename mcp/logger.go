package mcp

// Logger is the printf-style logging dependency of the client. The logger
// package provides an implementation backed by the global logrus logger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...any) {}
func (noopLogger) Infof(format string, args ...any)  {}
func (noopLogger) Warnf(format string, args ...any)  {}
func (noopLogger) Errorf(format string, args ...any) {}

// NewNoopLogger returns a Logger that discards everything (used in tests).
func NewNoopLogger() Logger {
	return noopLogger{}
}
