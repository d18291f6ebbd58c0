// Package logging builds the zap logger shared by the binaries.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the configuration for the logger.
type Config struct {
	Level      string `validate:"oneof=debug info warn error"`
	FileName   string // Rotated JSON log; empty disables it.
	MaxSize    int    `validate:"gte=0"` // Megabytes
	MaxBackups int    `validate:"gte=0"`
	MaxAge     int    `validate:"gte=0"` // Days
	Compress   bool
}

// Default returns an info-level console logger configuration.
func Default() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// New builds a logger writing human-readable lines to stderr and, when
// FileName is set, JSON lines to a rotated file.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithConsole(cfg, zapcore.Lock(os.Stderr))
}

// NewWithConsole is New with the console output sent to w.
func NewWithConsole(cfg Config, w zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), w, level),
	}

	if cfg.FileName != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
