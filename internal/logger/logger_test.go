package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerSplitsLevels(t *testing.T) {
	dir := t.TempDir()
	infoPath := filepath.Join(dir, "INFO_LOG.log")
	errPath := filepath.Join(dir, "ERROR_LOG.log")
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := NewFileLogger(infoPath, errPath, WithConsole(false), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	ctx := context.Background()
	l.Info(ctx, "fetched %d pulls", 3)
	l.Warn(ctx, "rotating from %s", "alice")
	l.Error(ctx, "golang/go: %s", "search failed\nsecond line")
	require.NoError(t, l.Close())

	info, err := os.ReadFile(infoPath)
	require.NoError(t, err)
	errs, err := os.ReadFile(errPath)
	require.NoError(t, err)

	assert.Equal(t,
		"2024-03-01T12:00:00Z INFO: fetched 3 pulls\n2024-03-01T12:00:00Z WARN: rotating from alice\n",
		string(info))
	assert.Equal(t, "2024-03-01T12:00:00Z ERROR: golang/go: search failed second line\n", string(errs))
}

func TestFileLoggerAppends(t *testing.T) {
	dir := t.TempDir()
	infoPath := filepath.Join(dir, "info.log")
	errPath := filepath.Join(dir, "error.log")

	for i := 0; i < 2; i++ {
		l, err := NewFileLogger(infoPath, errPath, WithConsole(false))
		require.NoError(t, err)
		l.Info(context.Background(), "run %d", i)
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(infoPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "INFO: run"))
}

func TestNewFileLoggerMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := NewFileLogger(filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log"))
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	pterm.SetDefaultOutput(&buf)
	pterm.DisableStyling()
	t.Cleanup(func() {
		pterm.SetDefaultOutput(os.Stdout)
		pterm.EnableStyling()
	})

	var l Logger = Console{}
	ctx := context.Background()
	l.Info(ctx, "listening on %s", ":8080")
	l.Warn(ctx, "storage %s", "sqlite")
	l.Error(ctx, "failed: %v", "boom")

	out := buf.String()
	assert.Contains(t, out, "listening on :8080")
	assert.Contains(t, out, "storage sqlite")
	assert.Contains(t, out, "failed: boom")
}
