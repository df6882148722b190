// Package logging provides structured logging for the p2pnode daemon.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level is a log severity.
type Level = log.Level

// Severities, re-exported from charmbracelet/log so callers never import
// it directly.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Logger wraps charmbracelet/log.Logger with a Component helper for
// per-package prefixes.
type Logger struct {
	*log.Logger
}

// Config configures a Logger.
type Config struct {
	Level      string
	TimeFormat string
	Prefix     string
	Output     io.Writer
}

// DefaultConfig returns info-level logging to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", TimeFormat: time.TimeOnly, Output: os.Stderr}
}

// New builds a Logger from cfg, falling back to DefaultConfig fields left
// unset.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.TimeOnly
	}

	l := log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Prefix:          cfg.Prefix,
	})
	l.SetLevel(ParseLevel(cfg.Level))

	return &Logger{Logger: l}
}

// ParseLevel maps a case-insensitive level name to a Level, defaulting to
// InfoLevel for anything unrecognized.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Component returns a child logger prefixed with name, inheriting the
// parent's level and output.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.WithPrefix(name)}
}

var defaultLogger = New(DefaultConfig())

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }
