package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler writes one human-readable line per record:
//
//	15:04:05.000 INFO  channel.state state=connected group=AB12
//
// Attributes added through WithAttrs are rendered once and reused.
type prettyHandler struct {
	w         io.Writer
	level     slog.Leveler
	addSource bool
	color     bool

	prefix string // group path ending in "."
	fixed  string // pre-rendered WithAttrs output

	mu *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		level: slog.LevelInfo,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(paint(r.Message, ansiBright, h.color))

	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
		}
	}

	b.WriteString(h.fixed)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.fixed)
	for _, a := range attrs {
		h.writeAttr(&b, h.prefix, a)
	}
	cp := *h
	cp.fixed = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		// Inline groups (empty key) splice their members into the parent.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, prefix, ga)
		}
		return
	}
	if key == "" {
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(displayKey(key))
	b.WriteByte('=')
	b.WriteString(h.formatValue(key, a.Value))
}

// formatValue colours well-known keys; everything else is printed plainly.
func (h *prettyHandler) formatValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return paint(strings.ToUpper(v.String()), ansiBright, h.color)
	case "path", "group":
		return paint(v.String(), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result", "state":
		return colorizeOutcome(strings.ToLower(v.String()), h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

func displayKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// levelTag is fixed-width so messages line up.
func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERROR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WARN ", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("DEBUG", ansiMagenta, color)
	default:
		return paint("INFO ", ansiBlue, color)
	}
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, color)
	case code >= 400:
		return paint(s, ansiYellow, color)
	case code >= 300:
		return paint(s, ansiCyan, color)
	default:
		return paint(s, ansiGreen, color)
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

// colorizeOutcome colours request results and channel states.
func colorizeOutcome(s string, color bool) string {
	switch s {
	case "success", "connected":
		return paint(s, ansiGreen, color)
	case "redirect", "negotiating":
		return paint(s, ansiCyan, color)
	case "client_error", "reconnecting":
		return paint(s, ansiYellow, color)
	case "server_error", "disconnected":
		return paint(s, ansiRed, color)
	default:
		return quoteIfNeeded(s)
	}
}
