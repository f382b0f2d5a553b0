package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured logger for one component. JSON to stdout by
// default; POWERVAULT_LOG_PRETTY=true switches to the console writer for
// local runs. Level comes from POWERVAULT_LOG_LEVEL (default info).
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("POWERVAULT_LOG_LEVEL"))
	return newLogger(logOutput(os.Getenv("POWERVAULT_LOG_PRETTY")), component, level)
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, component, level)
}

// NewTestLogger writes to w at debug level; tests pass io.Discard or a buffer.
func NewTestLogger(w io.Writer, component string) zerolog.Logger {
	return newLogger(w, component, zerolog.DebugLevel)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func logOutput(pretty string) io.Writer {
	if strings.EqualFold(pretty, "true") {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return os.Stdout
}

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
