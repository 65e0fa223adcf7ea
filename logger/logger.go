package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

// Fields represents log fields
type Fields map[string]interface{}

var (
	// Default is the default logger instance
	Default *Logger
)

// Init initializes the default logger on stdout
func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter initializes the default logger on out. Production writes
// one JSON object per line; every other environment gets the console format.
func InitWithWriter(out io.Writer) {
	level := getLogLevel()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	if os.Getenv("PRICEWORKER_ENVIRONMENT") != "production" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Default = &Logger{logger: zerolog.New(out).With().Timestamp().Str("service", "priceworker").Logger()}

	Default.Info().
		Str("level", level.String()).
		Msg("Logger initialized")
}

// getLogLevel reads LOG_LEVEL, falling back to the environment's default
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		if os.Getenv("PRICEWORKER_ENVIRONMENT") == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func defaultLogger() *Logger {
	if Default == nil {
		Init()
	}
	return Default
}

// WithFields creates a new logger with fields
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

// WithField creates a new logger with a single field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// Info logs a formatted info message on the default logger
func Info(format string, v ...interface{}) {
	defaultLogger().Info().Msgf(format, v...)
}

// Error logs a formatted error message on the default logger
func Error(format string, v ...interface{}) {
	defaultLogger().Error().Msgf(format, v...)
}

func component(name string) *Logger {
	return defaultLogger().WithField("component", name)
}

// ForSite creates a logger for probes against a specific shop
func ForSite(siteKey string) *Logger {
	return defaultLogger().WithField("site", siteKey)
}

// ForJob creates a logger for one batch price update run
func ForJob(runID string) *Logger {
	return defaultLogger().WithFields(Fields{"component": "job", "run": runID})
}

func ForLedger() *Logger    { return component("ledger") }
func ForScheduler() *Logger { return component("scheduler") }
func ForAPI() *Logger       { return component("api") }
func ForBrowser() *Logger   { return component("browser") }
func ForPublisher() *Logger { return component("publisher") }
func ForCache() *Logger     { return component("cache") }

// LogError logs err for component with a formatted message
func LogError(component string, err error, format string, v ...interface{}) {
	defaultLogger().Error().
		Str("component", component).
		Err(err).
		Msg(fmt.Sprintf(format, v...))
}
