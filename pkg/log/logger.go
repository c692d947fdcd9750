// Package log provides structured JSON logging for the training stage.
//
// It configures the standard log/slog package with attribute names that
// match the log collector's expectations (severity/message) and a handler
// wrapper that lifts cockroachdb/errors stack traces into a dedicated
// stacktrace attribute.
package log

import (
	"log/slog"
	"os"
)

// SetupLogger installs the stage's default JSON logger. loglevel is the
// LOG_LEVEL environment value and may be empty.
func SetupLogger(loglevel string) {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToLogLevel(loglevel),
		// Rename the standard keys to what the log collector indexes.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr.Key = "severity"
			case slog.MessageKey:
				attr.Key = "message"
			case slog.SourceKey:
				attr.Key = "logging.googleapis.com/sourceLocation"
			}
			return attr
		},
	}
	handler := slog.NewJSONHandler(os.Stdout, &ops)
	slog.SetDefault(slog.New(WrapByErrFmtHandler(handler)))
}

// ToLogLevel maps a LOG_LEVEL string to a slog level. Unset or unknown
// values fall back to info so the stage runs without configuration.
func ToLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
