package app

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns def when key is unset, blank, or rejected by parse.
func envValue[T any](key string, def T, parse func(string) (T, bool)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if v, ok := parse(raw); ok {
		return v
	}
	return def
}

func EnvString(key, def string) string {
	return envValue(key, def, func(s string) (string, bool) { return s, true })
}

// EnvStringSet differs from EnvString in that a variable which is set but
// empty yields "" instead of def.
func EnvStringSet(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func EnvBool(key string, def bool) bool {
	return envValue(key, def, func(s string) (bool, bool) {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	})
}

// EnvInt accepts positive values only.
func EnvInt(key string, def int) int {
	return envValue(key, def, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil && n > 0
	})
}

// EnvFloat accepts any finite value, including negatives (overlay offsets).
func EnvFloat(key string, def float64) float64 {
	return envValue(key, def, func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	})
}

// EnvDuration accepts positive Go durations ("250ms", "20s").
func EnvDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	})
}
