// Package logging provides structured logging for the memory services.
package logging

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(slog.LevelDebug)
	LevelInfo  LogLevel = LogLevel(slog.LevelInfo)
	LevelWarn  LogLevel = LogLevel(slog.LevelWarn)
	LevelError LogLevel = LogLevel(slog.LevelError)
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is an immutable structured logger. With* methods return copies.
type Logger struct {
	handler slog.Handler
	level   LogLevel
	fields  map[string]any
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(nil))
}

// NewLogger creates a new logger with the given handler.
func NewLogger(h slog.Handler) *Logger {
	if h == nil {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Logger{
		handler: h,
		level:   LevelInfo,
		fields:  map[string]any{},
	}
}

// Setup builds the process logger: text for dev, JSON otherwise.
func Setup(w io.Writer, dev bool, level LogLevel) *Logger {
	opts := &slog.HandlerOptions{Level: slog.Level(level)}
	var h slog.Handler
	if dev {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	l := NewLogger(h).WithLevel(level)
	SetDefault(l)
	slog.SetDefault(slog.New(h))
	return l
}

// Default returns the package logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the package logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

func (l *Logger) clone() *Logger {
	return &Logger{
		handler: l.handler,
		level:   l.level,
		fields:  maps.Clone(l.fields),
	}
}

// WithLevel returns a new logger with the specified minimum level.
func (l *Logger) WithLevel(level LogLevel) *Logger {
	n := l.clone()
	n.level = level
	return n
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	n := l.clone()
	n.fields[key] = value
	return n
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	n := l.clone()
	maps.Copy(n.fields, fields)
	return n
}

// Component tags every record with the emitting component.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Enabled reports whether records at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level && l.handler.Enabled(context.Background(), slog.Level(level))
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(l.fields)+len(args)/2)
	for k, v := range l.fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}

	record := slog.NewRecord(time.Now(), slog.Level(level), msg, 0)
	record.AddAttrs(attrs...)
	_ = l.handler.Handle(context.Background(), record)
}

type loggerKey struct{}

// FromContext extracts the logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// ToContext adds the logger to context.
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// WithContext returns l extended with the fields of the logger stored in ctx,
// such as the request id. Fields already set on l win.
// 将请求级字段合并到组件 logger。
func (l *Logger) WithContext(ctx context.Context) *Logger {
	scoped, ok := ctx.Value(loggerKey{}).(*Logger)
	if !ok || len(scoped.fields) == 0 {
		return l
	}
	n := l.clone()
	for k, v := range scoped.fields {
		if _, set := n.fields[k]; !set {
			n.fields[k] = v
		}
	}
	return n
}
