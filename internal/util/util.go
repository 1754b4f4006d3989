package util

import "strings"

// NormalizeDigits strips every non-digit rune from the input. Citizen IDs
// arrive with spaces and dots depending on the client.
func NormalizeDigits(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskCitizenID obscures a citizen ID for logging, keeping only the last
// three digits visible.
func MaskCitizenID(citizenID string) string {
	trimmed := strings.TrimSpace(citizenID)
	if len(trimmed) <= 3 {
		return strings.Repeat("*", len(trimmed))
	}
	return strings.Repeat("*", len(trimmed)-3) + trimmed[len(trimmed)-3:]
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
