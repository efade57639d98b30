// Package logutil keeps caller-supplied text safe to interpolate into
// the process log.
package logutil

import "strings"

// SanitizeForLog flattens a string to a single line: newlines, tabs and
// every other control character become spaces, so a crafted header or
// payload cannot forge additional log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
}
