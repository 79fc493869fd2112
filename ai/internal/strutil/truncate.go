// Package strutil holds small string helpers shared by the prompt-building
// and logging code: memory content is user text and may contain multi-byte
// runes, so naive byte slicing is never safe here.
package strutil

// Truncate shortens s to at most maxLen runes, appending "..." when anything
// was cut. Truncation happens at rune boundaries so multi-byte characters are
// never split. Returns "" if maxLen <= 0.
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
