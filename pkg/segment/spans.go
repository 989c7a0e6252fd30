package segment

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// Span is a half-open [Start, End) range measured in characters (runes).
type Span struct {
	Start int
	End   int
}

func (s Span) Contains(pos int) bool {
	return s.Start <= pos && pos < s.End
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n+`)

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// SentenceSpans splits text at every sentence terminator. Closing quotes right
// after a terminator belong to the sentence; the unterminated tail is kept as
// a final span. Leading whitespace stays with the following sentence so spans
// tile the whole text.
func SentenceSpans(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	var spans []Span
	last := 0
	for i := 0; i < n; i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		for end < n && (runes[end] == '"' || runes[end] == '\'') {
			end++
		}
		spans = append(spans, Span{Start: last, End: end})
		last = end
		i = end - 1
	}
	if last < n {
		spans = append(spans, Span{Start: last, End: n})
	}
	return spans
}

// SentenceIndexOf returns the index of the span containing pos. Positions
// before the first span map to 0, positions past the end to the last span,
// and -1 is returned when there are no spans.
func SentenceIndexOf(pos int, spans []Span) int {
	if len(spans) == 0 {
		return -1
	}
	if pos < spans[0].Start {
		return 0
	}
	if pos >= spans[len(spans)-1].End {
		return len(spans) - 1
	}
	for i, s := range spans {
		if s.Contains(pos) {
			return i
		}
	}
	return len(spans) - 1
}

// ParagraphSpans approximates blank-line delimited paragraphs. Each separator
// is counted as two characters, so spans drift when a separator is longer.
func ParagraphSpans(text string) []Span {
	parts := paragraphBreak.Split(text, -1)
	spans := make([]Span, 0, len(parts))
	cursor := 0
	for _, p := range parts {
		l := utf8.RuneCountInString(p)
		spans = append(spans, Span{Start: cursor, End: cursor + l})
		cursor += l + 2
	}
	if len(spans) == 0 {
		spans = append(spans, Span{Start: 0, End: utf8.RuneCountInString(text)})
	}
	return spans
}

// ParagraphIndexOf returns the paragraph containing pos or the last one.
func ParagraphIndexOf(pos int, spans []Span) int {
	for i, s := range spans {
		if s.Contains(pos) {
			return i
		}
	}
	return len(spans) - 1
}

// RuneIndex converts a byte offset into s to a character offset.
func RuneIndex(s string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff > len(s) {
		byteOff = len(s)
	}
	return utf8.RuneCountInString(s[:byteOff])
}

// Substring returns runes [start, end) of s, clamped to its bounds.
func Substring(s string, start, end int) string {
	runes := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}
