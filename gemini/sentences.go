package gemini

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sentenceSplitter cuts streamed text into complete sentences
type sentenceSplitter struct {
	pending string
}

// Push appends a chunk and returns the sentences it completes
func (s *sentenceSplitter) Push(chunk string) []string {
	s.pending += chunk

	var out []string
	for {
		end := sentenceEnd(s.pending)
		if end < 0 {
			break
		}
		if sentence := strings.TrimSpace(s.pending[:end]); sentence != "" {
			out = append(out, sentence)
		}
		s.pending = s.pending[end:]
	}
	return out
}

// Flush returns whatever is left over
func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.pending)
	s.pending = ""
	return rest
}

// sentenceEnd returns the byte offset just past the first sentence
// terminator, or -1. ASCII terminators only count when followed by
// whitespace so that "3.14" stays in one piece.
func sentenceEnd(text string) int {
	for i, r := range text {
		switch r {
		case '。', '！', '？', '\n':
			return i + utf8.RuneLen(r)
		case '.', '!', '?':
			next := i + 1
			if next < len(text) && unicode.IsSpace(rune(text[next])) {
				return next
			}
		}
	}
	return -1
}
