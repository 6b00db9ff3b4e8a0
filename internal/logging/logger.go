package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case TRACE:
		return logrus.TraceLevel
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel разбирает имя уровня; неизвестное имя даёт INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Options параметры логирования процесса
type Options struct {
	Level  string // trace|debug|info|warn|error, по умолчанию LOG_LEVEL или info
	Format string // text|json, по умолчанию LOG_FORMAT или text
	Dir    string // каталог для файла логов; пусто - только stdout
}

// Logger логгер компонента. Все компоненты пишут через общий logrus.Logger,
// имя компонента попадает в поле component.
type Logger struct {
	entry *logrus.Entry
}

var (
	baseMu     sync.RWMutex
	base       = newBase(os.Stdout)
	logFile    *os.File
	defaultLog = &Logger{entry: logrus.NewEntry(base)}
)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// InitDefaultLogger настраивает общий логгер процесса
func InitDefaultLogger(component string, opts ...Options) error {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Level == "" {
		o.Level = os.Getenv("LOG_LEVEL")
	}
	if o.Format == "" {
		o.Format = os.Getenv("LOG_FORMAT")
	}

	baseMu.Lock()
	defer baseMu.Unlock()

	base.SetLevel(ParseLevel(o.Level).logrus())
	if strings.EqualFold(o.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if o.Dir != "" {
		if err := os.MkdirAll(o.Dir, 0o755); err != nil {
			return fmt.Errorf("ошибка создания директории %s: %w", o.Dir, err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		filename := filepath.Join(o.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		base.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	defaultLog = &Logger{entry: base.WithField("component", component)}
	return nil
}

// CloseDefaultLogger закрывает файл логов, если он открыт
func CloseDefaultLogger() {
	baseMu.Lock()
	defer baseMu.Unlock()
	if logFile != nil {
		base.SetOutput(os.Stdout)
		logFile.Close()
		logFile = nil
	}
}

// SetOutput перенаправляет вывод общего логгера (используется в тестах)
func SetOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base.SetOutput(w)
}

// SetLevel меняет уровень общего логгера
func SetLevel(l LogLevel) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base.SetLevel(l.logrus())
}

func current() *Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return defaultLog
}

// WithField возвращает логгер с дополнительным полем
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Trace логирует сообщение уровня TRACE общим логгером
func Trace(format string, args ...interface{}) { current().Trace(format, args...) }

// Debug логирует сообщение уровня DEBUG общим логгером
func Debug(format string, args ...interface{}) { current().Debug(format, args...) }

// Info логирует сообщение уровня INFO общим логгером
func Info(format string, args ...interface{}) { current().Info(format, args...) }

// Warn логирует сообщение уровня WARN общим логгером
func Warn(format string, args ...interface{}) { current().Warn(format, args...) }

// Error логирует сообщение уровня ERROR общим логгером
func Error(format string, args ...interface{}) { current().Error(format, args...) }
