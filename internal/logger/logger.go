package logger

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

var (
	globalLogger *Logger
	once         sync.Once

	// defaultConfig keeps test runs quiet unless a caller asks for more
	defaultConfig = Config{
		Level:      "warn",
		Format:     FormatConsole,
		TimeFormat: time.RFC3339,
	}
)

// Logger wraps zerolog.Logger with field-map helpers
type Logger struct {
	zerolog.Logger
	level zerolog.Level
}

// LogFormat defines the available log formats
type LogFormat string

const (
	// FormatJSON is the JSON format
	FormatJSON LogFormat = "json"
	// FormatConsole is the human readable console format
	FormatConsole LogFormat = "console"
)

// ParseLogFormat parses a string into a LogFormat, defaulting to JSON
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "pretty":
		return FormatConsole
	default:
		return FormatJSON
	}
}

// Config holds the configuration for a logger
type Config struct {
	// Level is the log level (debug, info, warn, error, fatal, panic, disabled)
	Level string
	// Format is the log format (json, console)
	Format LogFormat
	// Output is the output writer (default: os.Stderr)
	Output io.Writer
	// TimeFormat is the console time format (default: time.RFC3339)
	TimeFormat string
}

// New builds a standalone logger from cfg without touching the global one
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var zl zerolog.Logger
	if cfg.Format == FormatConsole {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat})
	} else {
		zl = zerolog.New(output)
	}

	return &Logger{
		Logger: zl.Level(level).With().Timestamp().Logger(),
		level:  level,
	}
}

// NewForTest returns a logger that writes through t.Log so output is
// attached to the test that produced it
func NewForTest(t zerolog.TestingLog, level string) *Logger {
	return New(Config{
		Level:  level,
		Format: FormatJSON,
		Output: zerolog.NewTestWriter(t),
	})
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), level: zerolog.Disabled}
}

// Get returns the global logger, creating it with the default config on first use
func Get() *Logger {
	once.Do(func() {
		if globalLogger == nil {
			globalLogger = New(defaultConfig)
		}
	})
	return globalLogger
}

// Setup initializes the global logger. Only the first call has any effect.
func Setup(cfg Config) {
	once.Do(func() {
		globalLogger = New(cfg)
	})
}

// ForceSetup replaces the global logger regardless of earlier setup
func ForceSetup(cfg Config) {
	once.Do(func() {})
	globalLogger = New(cfg)
	globalLogger.Debug("Logger re-initialized", map[string]interface{}{
		"format": string(cfg.Format),
		"level":  cfg.Level,
	})
}

// ResetForTesting clears the global logger so the next Setup call applies.
// This should only be used in tests.
func ResetForTesting() {
	globalLogger = nil
	once = sync.Once{}
}

// GetLevel returns the level the logger was configured with
func (l *Logger) GetLevel() zerolog.Level {
	if l == nil {
		return zerolog.NoLevel
	}
	return l.level
}

// WithFields returns a child logger carrying the given fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return Get()
	}
	if len(fields) == 0 {
		return l
	}
	return &Logger{
		Logger: l.Logger.With().Fields(fields).Logger(),
		level:  l.level,
	}
}

func (l *Logger) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if len(fields) > 0 && len(fields[0]) > 0 {
		e = e.Fields(fields[0])
	}
	e.Msg(msg)
}

// Debug logs msg at debug level with optional fields
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Debug(), msg, fields)
}

// Info logs msg at info level with optional fields
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Info(), msg, fields)
}

// Warn logs msg at warn level with optional fields
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Warn(), msg, fields)
}

// Error logs msg at error level with optional fields
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Error(), msg, fields)
}


type loggerKey struct{}

// WithLogger stores the logger in ctx. A nil logger leaves ctx unchanged.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
			return l
		}
	}
	return Get()
}

// HTTPMiddleware logs every request handled by next
func HTTPMiddleware(log *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rww := &responseWriterWrapper{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rww, r.WithContext(WithLogger(r.Context(), log)))

		log.Info("HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"query":    r.URL.RawQuery,
			"status":   rww.status,
			"duration": time.Since(start).String(),
		})
	})
}

// responseWriterWrapper captures the status code written by a handler
type responseWriterWrapper struct {
	http.ResponseWriter
	status int
}

func (r *responseWriterWrapper) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
