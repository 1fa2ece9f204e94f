// Package logging provides leveled, field-annotated logging for
// LearnPulse. Loggers derived with WithField share one global level
// and output, so SetLevel applies to every component logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to its Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

func (l Level) color() string {
	switch l {
	case DEBUG:
		return "\033[36m"
	case INFO:
		return "\033[32m"
	case WARN:
		return "\033[33m"
	case ERROR:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

// state is shared by every derived logger.
type state struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	color  bool
}

var global = &state{
	level:  envLevel(),
	output: os.Stdout,
	color:  os.Getenv("NO_COLOR") == "",
}

func envLevel() Level {
	if v := os.Getenv("LEARNPULSE_LOG_LEVEL"); v != "" {
		return ParseLevel(v)
	}
	return INFO
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	global.mu.Lock()
	global.level = level
	global.mu.Unlock()
}

// SetOutput sets the output writer
func SetOutput(w io.Writer) {
	global.mu.Lock()
	global.output = w
	global.mu.Unlock()
}

// SetColor toggles ANSI level coloring
func SetColor(enabled bool) {
	global.mu.Lock()
	global.color = enabled
	global.mu.Unlock()
}

// Logger carries a fixed set of fields; emission goes through the
// shared global state.
type Logger struct {
	fields map[string]interface{}
}

var defaultLogger = &Logger{fields: map[string]interface{}{}}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// WithField derives a logger with one more field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields derives a logger with extra fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{fields: merged}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if level < global.level {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	if global.color {
		fmt.Fprintf(&b, "%s[%s]\033[0m", level.color(), level)
	} else {
		fmt.Fprintf(&b, "[%s]", level)
	}
	b.WriteByte(' ')
	b.WriteString(formatted)

	// Fields render sorted so output is stable
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	b.WriteByte('\n')
	io.WriteString(global.output, b.String())
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) { defaultLogger.log(DEBUG, msg, args...) }

// Info logs an info message
func Info(msg string, args ...interface{}) { defaultLogger.log(INFO, msg, args...) }

// Warn logs a warning message
func Warn(msg string, args ...interface{}) { defaultLogger.log(WARN, msg, args...) }

// Error logs an error message
func Error(msg string, args ...interface{}) { defaultLogger.log(ERROR, msg, args...) }

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
