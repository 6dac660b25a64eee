package device

import "strings"

// SplitLines decomposes text for typing: each element is typed as a unit
// and separated from the next by an enter key press. Trailing newlines
// produce trailing enter presses.
func SplitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// ChunkRunes splits s into chunks of at most max runes, never splitting a
// multi-byte character. Protocol transports cap the payload a single
// input command can carry.
func ChunkRunes(s string, max int) []string {
	if max <= 0 || len(s) <= max {
		return []string{s}
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+max-1)/max)
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
