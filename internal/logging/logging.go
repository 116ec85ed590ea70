// Package logging configures the process wide charmbracelet logger and keeps the
// tool call audit trail.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Log formats
const (
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// Options selects where and how logs are written
type Options struct {
	WorkingDir string
	Debug      bool
	Level      string
	Format     string
	// File overrides the default .chatforge/chatforge.log location
	File string
}

// Setup installs the default logger. In debug mode output stays on stderr at debug
// level; otherwise it goes to a log file. The standard library logger is redirected
// to the same destination. The returned closer releases the log file.
func Setup(opts Options) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if !opts.Debug {
		path := opts.File
		if path == "" {
			path = filepath.Join(opts.WorkingDir, ".chatforge", "chatforge.log")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		w, closer = f, f
	}

	logger := New(w, opts.Level, opts.Format)
	if opts.Debug {
		logger.SetLevel(log.DebugLevel)
		logger.SetReportCaller(true)
	}
	log.SetDefault(logger)

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer())

	return closer, nil
}

// New creates a logger writing to w with the given level and format
func New(w io.Writer, level, format string) *log.Logger {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Formatter:       ParseFormat(format),
		Prefix:          "chatforge",
	})
}

// ParseFormat maps a format name to a formatter, defaulting to text
func ParseFormat(format string) log.Formatter {
	switch strings.ToLower(format) {
	case FormatLogfmt:
		return log.LogfmtFormatter
	case FormatJSON:
		return log.JSONFormatter
	default:
		return log.TextFormatter
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
