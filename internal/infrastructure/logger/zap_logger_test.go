package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	l, err := NewLogger("chatty")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewFileLogger_WritesJSON(t *testing.T) {
	path := RunLogPath(filepath.Join(t.TempDir(), "logs"), "solambo", time.Date(2025, 6, 1, 10, 55, 15, 0, time.UTC))
	assert.True(t, strings.HasSuffix(path, "solambo_2025-06-01_10-55-15.log"))

	l, closeFn, err := NewFileLogger(path, "debug")
	require.NoError(t, err)
	l.Debug("Exit event", zap.String("command", "sell_all"))
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":"sell_all"`)
}

func TestNewRunLogger(t *testing.T) {
	l, closeFn, err := NewRunLogger("", "recorder", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.NoError(t, closeFn())

	dir := t.TempDir()
	l, closeFn, err = NewRunLogger(dir, "recorder", "info")
	require.NoError(t, err)
	l.Info("started")
	require.NoError(t, closeFn())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "recorder_"))
	assert.Equal(t, ".log", filepath.Ext(entries[0].Name()))
}
