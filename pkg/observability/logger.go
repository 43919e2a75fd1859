// Package observability builds the process logger from configuration.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ZentaChain/relaytalk/pkg/config"
)

// SetupLogger builds a zap.Logger from c, installs it as the global logger
// and redirects the stdlib log package. The caller should defer Sync.
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	encoder := newEncoder(c)

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var cores []zapcore.Core
	for _, out := range outputs {
		ws, err := writerFor(out, c)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	logger := zap.New(zapcore.NewTee(cores...), opts...)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

// ParseLevel maps a config level name to a zap level, defaulting to info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func newEncoder(c config.LogConfig) zapcore.Encoder {
	var encCfg zapcore.EncoderConfig
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if strings.ToLower(c.Format) == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func writerFor(out string, c config.LogConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	if c.Rotation.Enable {
		filename := out
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			filename = c.Rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(c.Rotation.MaxSizeMB, 10),
			MaxBackups: max(c.Rotation.MaxBackups, 1),
			MaxAge:     max(c.Rotation.MaxAgeDays, 7),
			Compress:   c.Rotation.Compress,
		}), nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output %s: %w", out, err)
	}
	return zapcore.AddSync(f), nil
}
