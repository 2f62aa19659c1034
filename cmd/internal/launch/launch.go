// Package launch validates the session code handed to the overlay at start,
// either directly or through the threeblindmice: URI scheme.
package launch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Scheme is the custom URI scheme registered for the overlay.
const Scheme = "threeblindmice"

// ErrInvalidCode reports a launch argument outside the allow-list.
var ErrInvalidCode = errors.New("launch: invalid session code")

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{4,8}$`)

// Parse extracts the session code from a bare code, "threeblindmice:CODE"
// or "threeblindmice://CODE[/]". Anything else is rejected.
//
// The returned code is only ever used as the channel group name.
func Parse(arg string) (string, error) {
	s := strings.TrimSpace(arg)

	if len(s) > len(Scheme) && strings.EqualFold(s[:len(Scheme)+1], Scheme+":") {
		s = s[len(Scheme)+1:]
		s = strings.TrimPrefix(s, "//")
		s = strings.TrimSuffix(s, "/")
	}

	if !codePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, truncate(arg, 16))
	}
	return s, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
