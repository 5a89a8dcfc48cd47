package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return config.Build()
}

// NewFileLogger writes JSON to path and a console rendering to stderr.
func NewFileLogger(path, level string) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	lvl := zap.NewAtomicLevelAt(parseLevel(level))

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(f), lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), lvl),
	)
	l := zap.New(core, zap.AddCaller())

	closeFn := func() error {
		_ = l.Sync()
		return f.Close()
	}
	return l, closeFn, nil
}

// RunLogPath builds logs/<strategy>_<timestamp>.log under dir.
func RunLogPath(dir, strategy string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", strategy, now.Format("2006-01-02_15-04-05")))
}

// NewRunLogger logs to a fresh per-run file under dir, or to stderr only when
// dir is empty.
func NewRunLogger(dir, name, level string) (*zap.Logger, func() error, error) {
	if dir == "" {
		l, err := NewLogger(level)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { _ = l.Sync(); return nil }, nil
	}
	return NewFileLogger(RunLogPath(dir, name, time.Now()), level)
}
