package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局日志实例，未初始化时所有输出函数均为空操作
var Log *logrus.Logger

// bufferSize 内存缓冲区保留的日志条数
const bufferSize = 1000

// Fields logrus 字段别名，调用方无需直接引用 logrus
type Fields = logrus.Fields

// MemoryHook 内存日志钩子
type MemoryHook struct {
	buffer *LogBuffer
}

// Levels 返回支持的日志级别
func (hook *MemoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 当日志触发时调用
func (hook *MemoryHook) Fire(entry *logrus.Entry) error {
	if hook.buffer != nil {
		hook.buffer.AddLog(entry.Time, entry.Level.String(), entry.Message, entry.Data)
	}
	return nil
}

// Init 初始化日志系统（控制台 + 滚动文件 + 内存缓冲）
func Init(level, logPath string, maxDays int) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    20, // MB
		MaxBackups: 10,
		MaxAge:     maxDays,
		Compress:   true,
	}

	Log = newLogger(level, io.MultiWriter(os.Stdout, rotator))
	Log.AddHook(&MemoryHook{buffer: GetBuffer()})
	return nil
}

// InitConsoleOnly 初始化日志系统（仅控制台输出 + 内存缓冲）
func InitConsoleOnly(level string) {
	Log = newLogger(level, os.Stdout)
	Log.AddHook(&MemoryHook{buffer: GetBuffer()})
}

// InitWriter 将日志输出到指定 writer，命令行的只读子命令和测试使用
func InitWriter(level string, w io.Writer) {
	Log = newLogger(level, w)
}

func newLogger(level string, out io.Writer) *logrus.Logger {
	l := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(out)

	if globalBuffer == nil {
		InitBuffer(bufferSize)
	}
	return l
}

// WithFields 返回带结构化字段的日志条目
func WithFields(fields Fields) *logrus.Entry {
	if Log == nil {
		return logrus.NewEntry(discard)
	}
	return Log.WithFields(fields)
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Debug 调试日志
func Debug(args ...interface{}) {
	if Log != nil {
		Log.Debug(args...)
	}
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	if Log != nil {
		Log.Debugf(format, args...)
	}
}

// Info 信息日志
func Info(args ...interface{}) {
	if Log != nil {
		Log.Info(args...)
	}
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	if Log != nil {
		Log.Infof(format, args...)
	}
}

// Warn 警告日志
func Warn(args ...interface{}) {
	if Log != nil {
		Log.Warn(args...)
	}
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	if Log != nil {
		Log.Warnf(format, args...)
	}
}

// Error 错误日志
func Error(args ...interface{}) {
	if Log != nil {
		Log.Error(args...)
	}
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	if Log != nil {
		Log.Errorf(format, args...)
	}
}
