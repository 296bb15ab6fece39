// Package media fetches course media to local disk and prepares it for upload.
package media

import (
	"strings"
	"unicode"
)

const (
	maxFileNameRunes = 200
	untitledName     = "untitled"
)

var forbiddenNameRunes = `<>:"/\|?*`

// SanitizeFileName strips characters that are unsafe in file names and bounds the length.
func SanitizeFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenNameRunes, r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > maxFileNameRunes {
		cleaned = strings.TrimSpace(string(runes[:maxFileNameRunes]))
	}
	if cleaned == "" {
		return untitledName
	}
	return cleaned
}
