package router

import (
	"fmt"
	"strings"
)

// suffixWidth reserves room for the widest ordering suffix, " (99/99)".
const suffixWidth = 8

// normalize collapses runs of spaces and tabs within each line to single
// spaces and collapses runs of blank lines to one paragraph break.
func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}

// chunk splits reply text into transmission-sized pieces. Text that fits in
// one chunk is returned as-is after normalization, with no suffix. Longer
// text is packed greedily by whole words into chunks of at most
// maxLength-suffixWidth characters, and every chunk gets an " (i/total)"
// suffix. Words are never split; a single word longer than the budget
// becomes its own oversized chunk.
func chunk(text string, maxLength int) []string {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}
	if len(normalized) <= maxLength {
		return []string{normalized}
	}

	budget := maxLength - suffixWidth
	if budget < 1 {
		budget = 1
	}

	var chunks []string
	var current strings.Builder
	for _, word := range strings.Fields(normalized) {
		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= budget:
			current.WriteByte(' ')
			current.WriteString(word)
		default:
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(word)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if len(chunks) == 1 {
		return chunks
	}
	for i := range chunks {
		chunks[i] += fmt.Sprintf(" (%d/%d)", i+1, len(chunks))
	}
	return chunks
}
