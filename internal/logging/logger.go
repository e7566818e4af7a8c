package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured logging for the fusion worker
type Logger struct {
	prefix string
	entry  *logrus.Entry
}

// Options controls the logrus backend shared by all prefixed loggers
type Options struct {
	Level  string // debug, info, warn, error
	JSON   bool
	Output io.Writer
}

var base = logrus.New()

// Configure sets level, formatter and output for every logger created afterwards
func Configure(opts Options) {
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		entry:  logrus.NewEntry(base).WithField("component", prefix),
	}
}

// Nop returns a logger that discards everything (tests)
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{prefix: "nop", entry: logrus.NewEntry(l)}
}

// With returns a child logger carrying the given key-value pairs on every line
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{prefix: l.prefix, entry: l.entry.WithFields(toFields(keysAndValues))}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		value := keysAndValues[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		fields[key] = value
	}
	return fields
}

// Printer exposes the backend entry for libraries that take a printf-style
// logger (asynq.Logger is satisfied by *logrus.Entry)
func (l *Logger) Printer() *logrus.Entry {
	return l.entry
}
