package llm

import "strings"

const (
	maxReplyRunes = 500
	personaMarker = "Anton:"
	userMarker    = "User:"
)

// Sanitize removes prompt echo from generated text and bounds its length.
func Sanitize(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, personaMarker); i >= 0 {
		text = strings.TrimSpace(text[i+len(personaMarker):])
	}
	if rest, ok := strings.CutPrefix(text, userMarker); ok {
		text = strings.TrimSpace(rest)
	}
	return truncateRunes(text, maxReplyRunes)
}
