// Package logging writes leveled, timestamped lines to stderr and, when a
// log file is configured, appends the same lines to it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is what components log through.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}

// Line writes "<RFC3339> <LEVEL> [<identity>] <message>" lines.
type Line struct {
	mu       sync.Mutex
	out      io.Writer
	file     *os.File
	identity int64
	now      func() time.Time
}

// New logs to out and, when path is not empty, appends to path as well.
func New(out io.Writer, path string, identity int64) (*Line, error) {
	l := &Line{out: out, identity: identity, now: time.Now}
	if path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l.file = f
	return l, nil
}

// Close releases the log file.
func (l *Line) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Line) Info(format string, args ...any)  { l.write(LevelInfo, format, args...) }
func (l *Line) Warn(format string, args ...any)  { l.write(LevelWarn, format, args...) }
func (l *Line) Error(format string, args ...any) { l.write(LevelError, format, args...) }

func (l *Line) write(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	line := fmt.Sprintf("%s %-5s [%d] %s\n", l.now().UTC().Format(time.RFC3339), string(level), l.identity, msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		_, _ = io.WriteString(l.out, line)
	}
	if l.file != nil {
		_, _ = l.file.WriteString(line)
	}
}
