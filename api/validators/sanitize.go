package validators

import "strings"

// SanitizeString collapses runs of whitespace and cuts the result to maxLen
// runes. A maxLen of zero means no cap.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Join(strings.Fields(input), " ")
	if maxLen <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return cleaned
}
