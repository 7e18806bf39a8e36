package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel представляет уровень логирования
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel разбирает уровень логирования из строки конфигурации.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return LogLevelSilent
	case "error":
		return LogLevelError
	case "warn":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger управляет логированием ядра
type Logger struct {
	level   LogLevel
	file    *os.File
	console io.Writer
	mu      sync.Mutex
}

// NewLogger создает новый логгер. Если logDir не пуст, лог дублируется
// в файл krypt.log внутри этого каталога.
func NewLogger(level LogLevel, logDir string) (*Logger, error) {
	l := &Logger{
		level:   level,
		console: os.Stdout,
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию логов: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(logDir, "krypt.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть файл логов: %w", err)
		}
		l.file = file
	}

	return l, nil
}

// SetLevel устанавливает уровень логирования
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) write(level LogLevel, tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level < level {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n",
		time.Now().Format("2006/01/02 15:04:05"), tag, fmt.Sprintf(format, args...))

	fmt.Fprint(l.console, line)
	if l.file != nil {
		fmt.Fprint(l.file, line)
	}
}

// Debug логирует отладочное сообщение
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LogLevelDebug, "DEBUG", format, args...)
}

// Info логирует информационное сообщение
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LogLevelInfo, "INFO", format, args...)
}

// Warn логирует предупреждение
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LogLevelWarn, "WARN", format, args...)
}

// Error логирует ошибку
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LogLevelError, "ERROR", format, args...)
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Глобальный логгер по умолчанию
var globalLogger *Logger

// InitGlobalLogger инициализирует глобальный логгер
func InitGlobalLogger(level LogLevel, logDir string) error {
	var err error
	globalLogger, err = NewLogger(level, logDir)
	return err
}

// GetGlobalLogger возвращает глобальный логгер
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger, _ = NewLogger(LogLevelInfo, "")
	}
	return globalLogger
}

// Глобальные функции для удобства
func Debug(format string, args ...interface{}) { GetGlobalLogger().Debug(format, args...) }
func Info(format string, args ...interface{})  { GetGlobalLogger().Info(format, args...) }
func Warn(format string, args ...interface{})  { GetGlobalLogger().Warn(format, args...) }
func Error(format string, args ...interface{}) { GetGlobalLogger().Error(format, args...) }
