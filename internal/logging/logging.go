// Package logging builds the service's zap logger from configuration.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"torg12-server/pkg/config"
)

// New builds a logger for cfg. Output "stdout"/"stderr" or a file path; an
// ErrorFile, when set, also receives every entry at error level and above.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.ErrorFile == "" {
		return logger, nil
	}

	sink, _, err := zap.Open(cfg.ErrorFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	errCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		zapcore.ErrorLevel,
	)
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, errCore)
	})), nil
}

// ForStdio returns cfg redirected to stderr, keeping stdout free for the
// JSON-RPC stream.
func ForStdio(cfg config.LoggingConfig) config.LoggingConfig {
	cfg.Output = "stderr"
	return cfg
}
