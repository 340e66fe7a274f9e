package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

func init() {
	if err := Setup(os.Getenv("LOG_LEVEL"), os.Getenv("ENV") == "development"); err != nil {
		panic(err)
	}
}

// Setup replaces the process logger. An empty or unknown level means info.
func Setup(level string, development bool) error {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	built, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	log = built
	return nil
}

// Replace swaps the logger, e.g. for an observer in tests.
func Replace(l *zap.Logger) {
	log = l
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Sync() {
	_ = log.Sync()
}

func Get() *zap.Logger {
	return log
}
