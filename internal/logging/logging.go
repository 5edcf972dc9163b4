// Package logging configures the process-wide structured logger. The MCP
// protocol owns stdout, so all diagnostics go to stderr (or an explicit file).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the given level. Unknown level strings
// fall back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           parsed,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
}

// NewFile opens path for appending and returns a JSON-formatted logger backed
// by it, plus the file handle for the caller to close on shutdown.
func NewFile(path, level string) (*log.Logger, *os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger := New(file, level)
	logger.SetFormatter(log.JSONFormatter)
	return logger, file, nil
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
