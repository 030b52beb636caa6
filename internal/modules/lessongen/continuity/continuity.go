package continuity

import "strings"

// CharsPerToken is the rough size of one model token in characters.
const CharsPerToken = 4

// DefaultMaxTokens bounds the excerpt handed to the next writer call.
const DefaultMaxTokens = 500

// Extract returns a trailing excerpt of content no longer than maxTokens worth
// of characters. When a paragraph break lies past the middle of the candidate
// tail the excerpt starts there; failing that, it starts after the last
// sentence end past the middle; otherwise the raw tail is used.
func Extract(content string, maxTokens int) string {
	if content == "" || maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * CharsPerToken

	r := []rune(content)
	if len(r) > limit {
		r = r[len(r)-limit:]
	}
	tail := string(r)
	// Byte offset of the middle character, so it compares with LastIndex.
	mid := len(string(r[:len(r)/2]))

	if i := strings.LastIndex(tail, "\n\n"); i > mid {
		return strings.TrimSpace(tail[i:])
	}
	if i := strings.LastIndex(tail, ". "); i > mid {
		return strings.TrimSpace(tail[i+2:])
	}
	return strings.TrimSpace(tail)
}

// Join concatenates completed chunks the same way the assembler does, so the
// excerpt always reflects the final document.
func Join(chunks []string) string {
	return strings.Join(chunks, "\n\n")
}
