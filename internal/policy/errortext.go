package policy

import (
	"regexp"
	"strings"
)

var (
	pathPattern  = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeErrorText prepares an internal error message for a user-facing
// reply: filesystem paths are masked, whitespace is collapsed, and the
// result is truncated to maxRunes. The full message belongs in the log,
// never in the chat.
func SanitizeErrorText(msg string, maxRunes int) string {
	out := pathPattern.ReplaceAllString(msg, "[file]")
	out = spacePattern.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if maxRunes > 0 {
		r := []rune(out)
		if len(r) > maxRunes {
			out = string(r[:maxRunes]) + "…"
		}
	}
	return out
}
