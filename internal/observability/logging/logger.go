package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap core behind a slog front-end. format is "json" or
// "console"; anything else falls back to json.
func NewLogger(service, level, format string) *slog.Logger {
	return newLogger(os.Stdout, service, level, format)
}

// NewStderrLogger is NewLogger for processes whose stdout carries a protocol.
func NewStderrLogger(service, level, format string) *slog.Logger {
	return newLogger(os.Stderr, service, level, format)
}

func newLogger(out io.Writer, service, level, format string) *slog.Logger {
	zl := buildZapLogger(out, level, format)
	handler := slogzap.Option{
		Level:  parseLevel(level),
		Logger: zl,
	}.NewZapHandler()
	return slog.New(handler).With("service", service)
}

func buildZapLogger(out io.Writer, level, format string) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	var encoder zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zapLevel(parseLevel(level)))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
