// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
	Stderr    bool
}

// Init builds the root logger, installs it as the charmbracelet default and
// returns it. An empty File logs to stderr only.
func Init(cfg Config) (*log.Logger, error) {
	var writers []io.Writer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxFiles,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	if cfg.Stderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l := log.NewWithOptions(io.MultiWriter(writers...), log.Options{
		ReportTimestamp: true,
		Level:           ParseLevel(cfg.Level),
		Prefix:          "pledge",
	})
	log.SetDefault(l)
	return l, nil
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Component returns a child of l tagged with the component name, falling
// back to the default logger when l is nil.
func Component(l *log.Logger, name string) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	return l.With("component", name)
}
