package utilities

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides a leveled logger. The printf-style API is kept for every
// component; zerolog does the formatting and output.
type Logger struct {
	level atomic.Int32
	zl    zerolog.Logger
}

// NewLogger creates a console Logger writing to stdout.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}, level)
}

// NewLoggerTo creates a Logger writing to w.
func NewLoggerTo(w io.Writer, level LogLevel) *Logger {
	l := &Logger{
		zl: zerolog.New(w).With().Timestamp().Str("app", "tradewarden").Logger(),
	}
	l.level.Store(int32(level))
	return l
}

// NewLoggerFromConfig builds a Logger from the logging section: level, console or
// json format, and an optional file sink.
func NewLoggerFromConfig(cfg LoggingConfig) (*Logger, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	case "json":
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	if cfg.LogToFile && cfg.LogFilePath != "" {
		f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.LogFilePath, err)
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	return NewLoggerTo(out, level), nil
}

// With returns a child logger carrying an extra field on every line.
func (l *Logger) With(key, value string) *Logger {
	child := &Logger{zl: l.zl.With().Str(key, value).Logger()}
	child.level.Store(l.level.Load())
	return child
}

// LogDebug logs a message at Debug level.
func (l *Logger) LogDebug(format string, v ...interface{}) {
	if l.enabled(Debug) {
		l.zl.Debug().Caller(1).Msgf(format, v...)
	}
}

// LogError logs a message at Error level.
func (l *Logger) LogError(format string, v ...interface{}) {
	if l.enabled(Error) {
		l.zl.Error().Caller(1).Msgf(format, v...)
	}
}

// LogFatal logs a message at Fatal level and then calls os.Exit(1).
func (l *Logger) LogFatal(format string, v ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Caller(1).Msgf(format, v...)
	os.Exit(1)
}

// LogInfo logs a message at Info level.
func (l *Logger) LogInfo(format string, v ...interface{}) {
	if l.enabled(Info) {
		l.zl.Info().Caller(1).Msgf(format, v...)
	}
}

// LogWarn logs a message at Warn level.
func (l *Logger) LogWarn(format string, v ...interface{}) {
	if l.enabled(Warn) {
		l.zl.Warn().Caller(1).Msgf(format, v...)
	}
}

// SetLogLevel updates the logging level of the logger. Safe to call while other
// goroutines are logging.
func (l *Logger) SetLogLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) enabled(level LogLevel) bool {
	return LogLevel(l.level.Load()) <= level
}

// ParseLogLevel converts a string log level to the LogLevel type.
func ParseLogLevel(levelStr string) (LogLevel, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	case "fatal":
		return Fatal, nil
	default:
		return Info, fmt.Errorf("invalid log level string: %s", levelStr)
	}
}
