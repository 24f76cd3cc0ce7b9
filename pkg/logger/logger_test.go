package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPlainHandlerFormatsIntention(t *testing.T) {
	t.Setenv(logFileEnv, "off")

	var buf bytes.Buffer
	log := NewLoggerWithConsoleWriter(LogLevelInfo, &buf).WithComponent("cache").WithSession("s1")
	log.InfoWithIntention(IntentionCache, "Cache hit", "backend", "gemini-3")

	got := strings.TrimSpace(buf.String())
	want := iconFor(IntentionCache) + " Cache hit backend=gemini-3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Setenv(logFileEnv, "off")

	var buf bytes.Buffer
	log := NewLoggerWithConsoleWriter(LogLevelWarn, &buf)
	log.Info("hidden")
	log.DebugWithIntention(IntentionDebug, "also hidden")
	log.Warn("shown", "n", 1)

	if got := strings.TrimSpace(buf.String()); got != "shown n=1" {
		t.Errorf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[LogLevel]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
