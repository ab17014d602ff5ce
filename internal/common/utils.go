package common

import "strings"

// HasAny reports whether s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// NonEmptyLines splits s into trimmed lines and drops blank ones and those
// containing any of the skip substrings.
func NonEmptyLines(s string, skip ...string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || HasAny(line, skip...) {
			continue
		}
		out = append(out, line)
	}
	return out
}
