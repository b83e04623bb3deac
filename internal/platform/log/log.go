// Package applog is the process-wide logger: a zap core with slog in front of it.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls level, encoding and destination.
type Config struct {
	Level     string
	Format    string // text | json
	AddSource bool
	Output    io.Writer // stdout when nil; the CLI passes stderr
	Service   string    // stamped on every entry when set
}

var (
	mu        sync.RWMutex
	zapLogger *zap.Logger
)

// Init installs the zap core and routes slog and the std logger through it.
func Init(cfg Config) {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger := newZap(cfg, level, out)

	mu.Lock()
	zapLogger = logger
	mu.Unlock()
	zap.ReplaceGlobals(logger)

	slog.SetDefault(slog.New(slogzap.Option{
		Level:     slogLevel(level),
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()))

	log.SetOutput(out)
	log.SetFlags(0)
}

// Sync flushes buffered entries. Call it before exit.
func Sync() {
	mu.RLock()
	l := zapLogger
	mu.RUnlock()
	if l == nil {
		l = zap.L()
	}
	_ = l.Sync()
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

// Fatalf logs at error level, flushes and exits 1.
func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	Sync()
	os.Exit(1)
}

func newZap(cfg Config, level zapcore.Level, out io.Writer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), level), opts...)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// slogLevel maps a zap level onto the slog scale (debug -4 ... error 8).
func slogLevel(l zapcore.Level) slog.Level {
	switch l {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
