package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerTo_JSONByDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLoggerTo(&buf, "warn", false, false)

	log.Info("dropped")
	log.Warn("store.reject.capacity", "live", 10)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered at warn: %q", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"msg":"store.reject.capacity"`) {
		t.Fatalf("expected JSON output, got %q", out)
	}
}

func TestNewLoggerTo_Pretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLoggerTo(&buf, "debug", true, false)
	log.Debug("render.frame", "cursors", 2)

	if !strings.Contains(buf.String(), "DEBUG render.frame") {
		t.Fatalf("expected pretty output, got %q", buf.String())
	}
}
