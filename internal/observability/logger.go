// Package observability provides structured logging and the advice audit
// trail.
//
// Every advice must record: advice_id, statement type, tables referenced,
// fired rules, plan outcome and evaluation time.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`

	// Format is json or console.
	Format string `mapstructure:"format"`

	// Output is stdout, stderr, file or both (stdout and file).
	Output string `mapstructure:"output"`

	File FileConfig `mapstructure:"file"`
}

// FileConfig configures the rotated log file.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// Valid log formats and outputs.
var (
	LogFormats = []string{"json", "console"}
	LogOutputs = []string{"stdout", "stderr", "file", "both"}
)

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("observability: invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	default:
		return nil, fmt.Errorf("observability: invalid log format %q", cfg.Format)
	}

	syncers, err := writeSyncers(cfg)
	if err != nil {
		return nil, err
	}
	cores := make([]zapcore.Core, 0, len(syncers))
	for _, ws := range syncers {
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.LevelKey = "level"
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.MessageKey = "message"
	return cfg
}

func writeSyncers(cfg LogConfig) ([]zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout", "":
		return []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}, nil
	case "stderr":
		return []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}, nil
	case "file":
		file, err := fileSyncer(cfg.File)
		if err != nil {
			return nil, err
		}
		return []zapcore.WriteSyncer{file}, nil
	case "both":
		file, err := fileSyncer(cfg.File)
		if err != nil {
			return nil, err
		}
		return []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout), file}, nil
	default:
		return nil, fmt.Errorf("observability: invalid log output %q", cfg.Output)
	}
}

// fileSyncer writes to a lumberjack-rotated file.
func fileSyncer(cfg FileConfig) (zapcore.WriteSyncer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("observability: logging.file.path is required for file output")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("observability: create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}), nil
}
