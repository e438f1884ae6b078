// Package utils holds small helpers shared across packages: logging setup,
// vector normalization, and text formatting.
package utils

// Truncate shortens s to at most maxLen bytes, appending "..." when it cuts.
// A non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
