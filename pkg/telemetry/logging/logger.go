package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/turnstile/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in plain text format.
	FormatText LogFormat = "text"
)

// Config contains configuration for the Logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the output format ("json", "text")
	Format string

	// AddSource includes file and line number in logs
	AddSource bool

	// RedactPII enables secret and PII redaction
	RedactPII bool

	// RedactPatterns contains custom redaction patterns
	RedactPatterns []config.RedactPattern

	// Writer is the output writer (defaults to os.Stdout)
	Writer io.Writer
}

// FromConfig converts the logging section of the configuration file.
func FromConfig(cfg config.LoggingConfig) Config {
	return Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactPII:      cfg.RedactPII,
		RedactPatterns: cfg.RedactPatterns,
	}
}

// Logger is a slog.Logger whose level can be changed at runtime.
//
// The handler chain is: context fields, then redaction, then the JSON or
// text handler. Components keep logging through slog.Default() once
// SetDefault has been called.
type Logger struct {
	*slog.Logger

	level  *slog.LevelVar
	format LogFormat
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	if cfg.RedactPII {
		handler = &redactHandler{next: handler, redactor: NewRedactor(cfg.RedactPatterns)}
	}
	handler = NewContextHandler(handler)

	return &Logger{
		Logger: slog.New(handler),
		level:  levelVar,
		format: format,
	}, nil
}

// SetDefault installs the logger as the process-wide slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

// SetLevel changes the minimum level. Used on configuration reload.
func (l *Logger) SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(parsed)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Format returns the output format.
func (l *Logger) Format() LogFormat {
	return l.format
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
