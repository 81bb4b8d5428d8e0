// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CountWords counts whitespace-delimited tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// CollapseWhitespace reduces runs of spaces and tabs to a single space and
// runs of blank lines to a single newline.
func CollapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, ln := range lines {
		fields := strings.Fields(ln)
		if len(fields) == 0 {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.Join(fields, " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
