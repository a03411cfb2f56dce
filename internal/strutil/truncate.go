// Package strutil provides small string helpers shared across packages.
package strutil

// Truncate shortens a string to at most maxLen runes, appending "..." when
// anything was cut. Truncation happens at rune boundaries so multi-byte
// characters are never split. Returns "" when maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
