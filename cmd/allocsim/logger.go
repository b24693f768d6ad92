package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)
	encoder := zapcore.NewJSONEncoder(encoderConfig())

	var core zapcore.Core
	switch cfg.Output {
	case "file":
		core = zapcore.NewCore(encoder, zapcore.AddSync(fileWriter(cfg)), level)
	case "both":
		core = zapcore.NewTee(
			zapcore.NewCore(encoder, zapcore.AddSync(fileWriter(cfg)), level),
			zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
		)
	default:
		core = zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	}

	return zap.New(core, zap.AddCaller()), nil
}

func fileWriter(cfg LoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.LevelKey = "level"
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return ec
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
