package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

var logrusLevels = map[Level]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel accepts debug, info, warn (or warning) and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type Logger struct {
	entry *logrus.Entry
}

var (
	mu            sync.Mutex
	defaultLogger *logrus.Logger
	baseFields    logrus.Fields
)

// Init configures the process-wide logger. Entries are JSON lines with the
// ts, lvl and msg keys.
func Init(w io.Writer, lvl Level, fields map[string]interface{}) {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrusLevels[lvl])
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "lvl",
			logrus.FieldKeyMsg:   "msg",
		},
	})

	mu.Lock()
	defaultLogger = l
	baseFields = logrus.Fields{}
	for k, v := range fields {
		baseFields[k] = v
	}
	mu.Unlock()
}

// WithFields returns a logger-like helper that merges fields for a single call.
func WithFields(fields map[string]interface{}) *Logger {
	mu.Lock()
	if defaultLogger == nil {
		mu.Unlock()
		Init(nil, LevelWarn, nil)
		mu.Lock()
	}
	entry := defaultLogger.WithFields(baseFields)
	mu.Unlock()
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	return &Logger{entry: entry}
}

func (l *Logger) with(extra map[string]interface{}) *logrus.Entry {
	if len(extra) == 0 {
		return l.entry
	}
	return l.entry.WithFields(logrus.Fields(extra))
}

func (l *Logger) Debug(msg string, extra map[string]interface{}) { l.with(extra).Debug(msg) }
func (l *Logger) Info(msg string, extra map[string]interface{})  { l.with(extra).Info(msg) }
func (l *Logger) Warn(msg string, extra map[string]interface{})  { l.with(extra).Warn(msg) }
func (l *Logger) Error(msg string, extra map[string]interface{}) { l.with(extra).Error(msg) }

// Top-level convenience wrappers
func Debug(msg string, extra map[string]interface{}) { WithFields(nil).Debug(msg, extra) }
func Info(msg string, extra map[string]interface{})  { WithFields(nil).Info(msg, extra) }
func Warn(msg string, extra map[string]interface{})  { WithFields(nil).Warn(msg, extra) }
func Error(msg string, extra map[string]interface{}) { WithFields(nil).Error(msg, extra) }

func SetLevel(lvl Level) {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		Init(nil, lvl, nil)
		return
	}
	l.SetLevel(logrusLevels[lvl])
}
