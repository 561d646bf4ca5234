package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls where structured logs go.
// An empty File keeps output on stdout only.
type LogOptions struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a structured JSON logger for one component.
// Level comes from LOOT_LOG_LEVEL, production default is info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithOptions(component, LogOptions{
		Level: os.Getenv("LOOT_LOG_LEVEL"),
		File:  os.Getenv("LOOT_LOG_FILE"),
	})
}

// NewLoggerWithOptions creates a logger that writes to stdout and, when
// opts.File is set, to a size-rotated file as well.
func NewLoggerWithOptions(component string, opts LogOptions) zerolog.Logger {
	return newLogger(component, parseLogLevel(opts.Level), logWriter(opts))
}

// NewBaseLogger creates a logger without a component field. Processes
// that log from many components derive them from one base so they share
// a single rotated file.
func NewBaseLogger(opts LogOptions) zerolog.Logger {
	return zerolog.New(logWriter(opts)).
		Level(parseLogLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(component, level, os.Stdout)
}

func newLogger(component string, level zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func logWriter(opts LogOptions) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 100),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 14),
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(os.Stdout, rotated)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
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

// ShortID trims an identifier for log output. Full signatures and lock
// ids stay out of the logs.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
