package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// Log is the global logger instance
	Log *logrus.Logger
)

func init() {
	// Usable before Init is called (tests, package init of collaborators)
	Log = logrus.New()
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(textFormatter())
	Log.SetOutput(os.Stdout)
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// ============================================================================
// Initialization
// ============================================================================

// Init replaces the global logger. A nil config means info level, text, stdout.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(textFormatter())
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	Log = l
	return nil
}

// ============================================================================
// Logging functions
// ============================================================================

// WithFields creates logger entry with fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// Component tags every line with the emitting component (node, package).
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

func Debugf(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

// ============================================================================
// MCP Logger adapter
// ============================================================================

// MCPLogger lets the mcp package log through the global logger.
// Implements mcp.Logger.
type MCPLogger struct{}

// NewMCPLogger creates the adapter
func NewMCPLogger() *MCPLogger {
	return &MCPLogger{}
}

func (l *MCPLogger) Debugf(format string, args ...any) {
	Log.WithField("component", "mcp").Debugf(format, args...)
}

func (l *MCPLogger) Infof(format string, args ...any) {
	Log.WithField("component", "mcp").Infof(format, args...)
}

func (l *MCPLogger) Warnf(format string, args ...any) {
	Log.WithField("component", "mcp").Warnf(format, args...)
}

func (l *MCPLogger) Errorf(format string, args ...any) {
	Log.WithField("component", "mcp").Errorf(format, args...)
}
