// Package logger provides the process-wide structured logger for quarry.
//
// It wraps zerolog with a small surface: a global logger configured once at
// startup from the logging section of the configuration, plus component
// loggers that tag every event with the subsystem that emitted it.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	zl zerolog.Logger
}

var root = Logger{zl: zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()}

// Setup configures the global logger. Level is one of debug, info, warn,
// error (case-insensitive). Format is "console" or "json". Output is
// "stdout", "stderr", or a file path.
func Setup(level, format, output string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, ferr := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			return ferr
		}
		w = f
	}

	if strings.ToLower(format) != "json" {
		w = consoleWriter(w)
	}

	root = Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
	return nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// WithComponent returns a logger tagged with a subsystem name.
func WithComponent(name string) Logger {
	return Logger{zl: root.zl.With().Str("component", name).Logger()}
}

// Debug logs a debug event with printf-style formatting.
func (l Logger) Debug(format string, v ...any) { l.zl.Debug().Msgf(format, v...) }

// Info logs an info event with printf-style formatting.
func (l Logger) Info(format string, v ...any) { l.zl.Info().Msgf(format, v...) }

// Warn logs a warning event with printf-style formatting.
func (l Logger) Warn(format string, v ...any) { l.zl.Warn().Msgf(format, v...) }

// Error logs an error event with printf-style formatting.
func (l Logger) Error(format string, v ...any) { l.zl.Error().Msgf(format, v...) }

// Err logs an error event carrying err under the "error" key.
func (l Logger) Err(err error, format string, v ...any) {
	l.zl.Error().Err(err).Msgf(format, v...)
}

// With returns a logger carrying an extra string field on every event.
func (l Logger) With(key, value string) Logger {
	return Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Package-level helpers logging through the root logger. These keep call
// sites short in main and in packages that have no component identity.

func Debug(format string, v ...any) { root.zl.Debug().Msgf(format, v...) }
func Info(format string, v ...any)  { root.zl.Info().Msgf(format, v...) }
func Warn(format string, v ...any)  { root.zl.Warn().Msgf(format, v...) }
func Error(format string, v ...any) { root.zl.Error().Msgf(format, v...) }
