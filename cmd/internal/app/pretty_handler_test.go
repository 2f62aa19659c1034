package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("group", "AB12").WithGroup("channel").Info("channel.connected", "state", "connected", "note", "two words")

	line := buf.String()
	for _, want := range []string{
		"INFO  channel.connected",
		"group=AB12",
		"channel.state=connected",
		`channel.note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("plain output contains ANSI codes: %q", line)
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "WARN  shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestPrettyHandler_RequestKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Info("http.request", "status", 503, "status_class", "5xx", "duration_ms", int64(12))

	line := buf.String()
	for _, want := range []string{"status=503", "class=5xx", "duration=12ms"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
}

func TestColorizeOutcome(t *testing.T) {
	t.Parallel()

	if got := colorizeOutcome("connected", true); got != ansiGreen+"connected"+ansiReset {
		t.Fatalf("connected=%q", got)
	}
	if got := colorizeOutcome("reconnecting", false); got != "reconnecting" {
		t.Fatalf("plain reconnecting=%q", got)
	}
	if got := colorizeOutcome("odd value", true); got != `"odd value"` {
		t.Fatalf("unknown outcome=%q", got)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":        `""`,
		"plain":   "plain",
		"a b":     `"a b"`,
		"k=v":     `"k=v"`,
		"line\nx": `"line\nx"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want %q", in, got, want)
		}
	}
}
