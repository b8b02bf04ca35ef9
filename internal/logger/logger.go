package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process-wide logger. Packages log through the helpers
// below rather than importing zerolog directly.
var Logger zerolog.Logger

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Configure sets up the global logger with the given level. In dev mode a
// pretty console writer is used instead of raw JSON lines.
func Configure(level LogLevel, isDev bool) {
	var zeroLevel zerolog.Level
	switch level {
	case LevelDebug:
		zeroLevel = zerolog.DebugLevel
	case LevelWarn:
		zeroLevel = zerolog.WarnLevel
	case LevelError:
		zeroLevel = zerolog.ErrorLevel
	default:
		zeroLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(zeroLevel)

	var writer io.Writer = os.Stderr
	if isDev {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = Logger
}

// LevelFromEnv determines the log level from the DEBUG environment
// variable. Dev mode defaults to debug unless explicitly disabled.
func LevelFromEnv(isDev bool) LogLevel {
	debug := strings.ToLower(os.Getenv("DEBUG"))

	if isDev {
		if debug == "false" || debug == "0" {
			return LevelInfo
		}
		return LevelDebug
	}

	if debug == "true" || debug == "1" {
		return LevelDebug
	}
	return LevelInfo
}

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Debugf(format string, args ...interface{}) { Logger.Debug().Msgf(format, args...) }

func Info(msg string) { Logger.Info().Msg(msg) }

func Infof(format string, args ...interface{}) { Logger.Info().Msgf(format, args...) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Warnf(format string, args ...interface{}) { Logger.Warn().Msgf(format, args...) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }
