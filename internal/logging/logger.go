// Package logging builds the zap loggers used across HydroAI.
// Console output goes to stderr at the configured level; when a log file is
// configured every record down to DEBUG is also written there. Subsystems log
// through named child loggers (one per Category).
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem logger.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryProject   Category = "project"
	CategoryDEM       Category = "dem"
	CategoryWatershed Category = "watershed"
	CategoryHydro     Category = "hydro"
	CategoryAnalysis  Category = "analysis"
	CategoryReport    Category = "report"
	CategoryStorage   Category = "storage"
	CategoryServer    Category = "server"
)

// TimeLayout matches the timestamp layout of the console output.
const TimeLayout = "2006-01-02 15:04:05"

// Options configures New. It mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // console, json (file output only)
	File    string // optional log file
	Verbose bool   // forces debug on the console
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "critical", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(TimeLayout)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// New builds the application logger.
func New(opts Options) (*zap.Logger, error) {
	consoleLevel := ParseLevel(opts.Level)
	if opts.Verbose {
		consoleLevel = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig()),
			zapcore.Lock(os.Stderr),
			zap.NewAtomicLevelAt(consoleLevel),
		),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		var enc zapcore.Encoder
		if strings.EqualFold(opts.Format, "json") {
			enc = zapcore.NewJSONEncoder(encoderConfig())
		} else {
			enc = zapcore.NewConsoleEncoder(encoderConfig())
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), zap.NewAtomicLevelAt(zapcore.DebugLevel)))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	logger.Named(string(CategoryBoot)).Info("logging initialized",
		zap.String("level", consoleLevel.String()),
		zap.String("file", opts.File))
	return logger, nil
}

// Named returns the child logger for a category. A nil logger yields a no-op logger.
func Named(l *zap.Logger, c Category) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(string(c))
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer starts timing op.
func StartTimer(l *zap.Logger, op string) *Timer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Timer{logger: l, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("operation finished", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}
