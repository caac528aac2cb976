// Package logger wraps log/slog with the attribute conventions the API and
// worker share: a service attribute on every line, request and job ids
// propagated through context, and a pretty handler for local runs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type contextKey string

const (
	// RequestIDKey carries the request id through a request's context.
	RequestIDKey contextKey = "request_id"
	// JobIDKey carries the job id through a render's context.
	JobIDKey contextKey = "job_id"
)

// Config selects level, format and destination for a Logger.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text, pretty
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

// DefaultConfig reads the logging environment variables and falls back to
// JSON at info level.
func DefaultConfig() Config {
	return Config{
		Level:       envOr("LOG_LEVEL", "info"),
		Format:      envOr("LOG_FORMAT", "json"),
		Output:      os.Stdout,
		AddSource:   envOr("LOG_SOURCE", "false") == "true",
		ServiceName: envOr("SERVICE_NAME", "montage"),
	}
}

// Logger is a slog.Logger plus the pipeline's context helpers.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Output defaults to stdout and unknown
// formats fall back to JSON.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	handler := buildHandler(cfg)
	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewDefault builds a Logger from DefaultConfig.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

func buildHandler(cfg Config) slog.Handler {
	level := parseLevel(cfg.Level)

	if cfg.Format == "pretty" {
		// Colored output for a terminal, not for collection.
		return tint.NewHandler(cfg.Output, &tint.Options{
			Level:      level,
			AddSource:  cfg.AddSource,
			TimeFormat: time.TimeOnly,
		})
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}
	if cfg.Format == "text" {
		return slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.NewJSONHandler(cfg.Output, opts)
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRequestID attaches the request id attribute.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with(slog.String("request_id", requestID))
}

// WithJobID attaches the job id attribute.
func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(slog.String("job_id", jobID))
}

// WithComponent attaches the component attribute.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(slog.String("component", component))
}

// WithError attaches the error message, or returns l unchanged for nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithFields attaches one attribute per map entry.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// FromContext returns l enriched with whatever ids the context carries.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	out := l
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		out = out.WithRequestID(id)
	}
	if id, ok := ctx.Value(JobIDKey).(string); ok && id != "" {
		out = out.WithJobID(id)
	}
	return out
}

// LogError logs err at error level with the caller's position and the
// context's ids. A nil err logs nothing.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}
	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

// LogFatal logs at error level and exits the process. Only for main, where
// there is nothing left to unwind.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

// ContextWithRequestID stores the request id for FromContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithJobID stores the job id for FromContext.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
