package cursor

import (
	"math"
	"strings"
	"unicode"

	v1 "github.com/psryland/three-blind-mice/shared/contracts/overlay/v1"
)

// ValidColour reports whether s is exactly "#RRGGBB".
func ValidColour(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeIdentity strips control characters and truncates to MaxIdentityChars.
// It reports false when nothing usable remains.
func NormalizeIdentity(s string) (string, bool) {
	id := truncateRunes(stripControl(s), MaxIdentityChars)
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// stripControl removes control characters (newlines, escapes, C1 codes).
func stripControl(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampButton(b v1.Button) v1.Button {
	switch {
	case b < v1.ButtonNone:
		return v1.ButtonNone
	case b > v1.ButtonSecondary:
		return v1.ButtonSecondary
	default:
		return b
	}
}
