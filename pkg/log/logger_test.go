package log

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  slog.Level
	}{
		{name: "debug", level: "debug", want: slog.LevelDebug},
		{name: "info", level: "info", want: slog.LevelInfo},
		{name: "warn", level: "warn", want: slog.LevelWarn},
		{name: "error", level: "error", want: slog.LevelError},
		{name: "unset defaults to info", level: "", want: slog.LevelInfo},
		{name: "unknown defaults to info", level: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToLogLevel(tt.level); got != tt.want {
				t.Errorf("ToLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestSetupLogger_DefaultEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("SetupLogger panicked without LOG_LEVEL: %v", r)
		}
	}()
	SetupLogger(os.Getenv("LOG_LEVEL"))

	ctx := context.Background()
	if !slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Error("default logger should enable info level")
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Error("default logger should not enable debug level")
	}
}
