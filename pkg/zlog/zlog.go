package zlog

import (
	"os"
	"path/filepath"
	"sync"

	"SageLink/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// 初始化日志：控制台 + 滚动文件双输出
func build() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
	}

	logPath := config.GetConfig().LogConfig.LogPath
	if logPath != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   filepath.Join(logPath, "sagelink.log"),
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileWriter), zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
}

func get() *zap.Logger {
	once.Do(func() {
		logger = build()
	})
	return logger
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

// Sync 退出前刷新缓冲
func Sync() {
	_ = get().Sync()
}
