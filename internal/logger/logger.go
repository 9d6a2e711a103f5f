package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// Logger is the logging interface shared by every component
type Logger interface {
	Info(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, format string, args ...interface{})
}

// FileLogger appends info and warning lines to one file and error lines to another,
// echoing each line to the console.
type FileLogger struct {
	mu      sync.Mutex
	info    *os.File
	errs    *os.File
	console bool
	now     func() time.Time
}

// Option configures a FileLogger
type Option func(*FileLogger)

// WithConsole toggles the console echo (on by default)
func WithConsole(enabled bool) Option {
	return func(l *FileLogger) { l.console = enabled }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *FileLogger) { l.now = now }
}

// NewFileLogger opens (or creates) the two log files in append mode.
// The directory must already exist.
func NewFileLogger(infoPath, errorPath string, opts ...Option) (*FileLogger, error) {
	info, err := openAppend(infoPath)
	if err != nil {
		return nil, err
	}
	errs, err := openAppend(errorPath)
	if err != nil {
		info.Close()
		return nil, err
	}

	l := &FileLogger{info: info, errs: errs, console: true, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// Info logs an informational line
func (l *FileLogger) Info(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.write(l.info, "INFO", msg)
	if l.console {
		pterm.Info.Println(msg)
	}
}

// Warn logs a warning to the info log
func (l *FileLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.write(l.info, "WARN", msg)
	if l.console {
		pterm.Warning.Println(msg)
	}
}

// Error logs to the error log
func (l *FileLogger) Error(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.write(l.errs, "ERROR", msg)
	if l.console {
		pterm.Error.Println(msg)
	}
}

func (l *FileLogger) write(f *os.File, level, msg string) {
	// keep one entry per line
	msg = strings.ReplaceAll(msg, "\n", " ")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(f, "%s %s: %s\n", l.now().Format(time.RFC3339), level, msg)
}

// Close closes both files
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.info.Close()
	err2 := l.errs.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Console logs through pterm only
type Console struct{}

func (Console) Info(ctx context.Context, format string, args ...interface{}) {
	pterm.Info.Printfln(format, args...)
}

func (Console) Warn(ctx context.Context, format string, args ...interface{}) {
	pterm.Warning.Printfln(format, args...)
}

func (Console) Error(ctx context.Context, format string, args ...interface{}) {
	pterm.Error.Printfln(format, args...)
}

// Discard drops everything
type Discard struct{}

func (Discard) Info(ctx context.Context, format string, args ...interface{})  {}
func (Discard) Warn(ctx context.Context, format string, args ...interface{})  {}
func (Discard) Error(ctx context.Context, format string, args ...interface{}) {}
