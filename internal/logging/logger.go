// Package logging builds the daemon's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger that appends JSON lines to logPath at the given
// level ("" means info) and echoes warnings and errors to stderr, which is
// where a daemon that fails during startup gets noticed. Every entry carries
// the session name and PID.
func New(logPath, sessionName, level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	sink, _, err := zap.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if err := os.Chmod(logPath, 0600); err != nil {
		return nil, err
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	stderrLevel := max(lvl, zapcore.WarnLevel)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), sink, lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), stderrLevel),
	)
	return zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))).With(
		zap.String("session", sessionName),
		zap.Int("pid", os.Getpid()),
	), nil
}
