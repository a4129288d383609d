package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// instanceID identifies this server process in logs and in cross-instance events.
var instanceID string

func init() {
	instanceID = os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = os.Getenv("HOSTNAME")
	}
	if instanceID == "" {
		b := make([]byte, 4)
		rand.Read(b)
		instanceID = hex.EncodeToString(b)
	}
}

// GetInstanceID returns the instance ID for this server.
func GetInstanceID() string {
	return instanceID
}

// Config holds the configuration of the logger.
type Config struct {
	Level  slog.Level
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
}

type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyUserID    contextKey = "user_id"
	ContextKeyChatID    contextKey = "chat_id"
	ContextKeyOperation contextKey = "operation"
)

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given config.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   a.Key,
						Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
					}
				}
				return a
			},
		}
		return &Logger{
			Logger: slog.New(slog.NewJSONHandler(out, opts)).With(slog.String("instance_id", instanceID)),
		}
	}

	opts := &tint.Options{
		Level:      config.Level,
		AddSource:  true,
		TimeFormat: time.Kitchen,
	}

	return &Logger{
		Logger: slog.New(tint.NewHandler(out, opts)).With(slog.String("instance_id", instanceID)),
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Level: slog.LevelError + 1, Format: "json", Output: io.Discard})
}

// FromConfig maps LOG_LEVEL / LOG_FORMAT values onto a logger Config.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{
		Level:  slog.LevelDebug,
		Format: "text",
	}

	switch logLevel {
	case "debug":
		config.Level = slog.LevelDebug
	case "info":
		config.Level = slog.LevelInfo
	case "warn":
		config.Level = slog.LevelWarn
	case "error":
		config.Level = slog.LevelError
	}

	if logFormat != "" {
		config.Format = logFormat
	}

	if env := os.Getenv("APP_ENV"); env == "production" {
		config.Format = "json"
	}

	return config
}

// WithContext creates a new logger carrying the ids stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	for _, key := range []contextKey{ContextKeyRequestID, ContextKeyUserID, ContextKeyChatID, ContextKeyOperation} {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			logger = logger.With(slog.String(string(key), value))
		}
	}

	return &Logger{
		Logger: logger,
	}
}

// WithComponent creates a new logger with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", component)),
	}
}

// LogError logs an error with additional context.
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...interface{}) {
	logger := l.WithContext(ctx)
	allArgs := append([]interface{}{"error", err}, args...)
	logger.Error(msg, allArgs...)
}
