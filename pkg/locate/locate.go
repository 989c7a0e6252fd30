// Package locate rebuilds verbatim evidence from the locators an extraction
// model returns. Every function is total: a locator that cannot be resolved
// yields an empty string.
package locate

import (
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

// Reconstruct tries each locator in order and returns the first non-empty
// evidence.
func Reconstruct(text string, locators ...common.Locator) string {
	if text == "" {
		return ""
	}
	var spans []segment.Span
	for _, loc := range locators {
		if spans == nil {
			spans = segment.SentenceSpans(text)
		}
		var ev string
		switch l := loc.(type) {
		case common.IndexRange:
			ev = fromIndex(text, spans, l)
		case *common.IndexRange:
			if l != nil {
				ev = fromIndex(text, spans, *l)
			}
		case common.AnchorOffset:
			ev = fromAnchor(text, spans, l)
		case *common.AnchorOffset:
			if l != nil {
				ev = fromAnchor(text, spans, *l)
			}
		}
		if ev != "" {
			return ev
		}
	}
	return ""
}

// FromIndex resolves an IndexRange against text.
func FromIndex(text string, r common.IndexRange) string {
	return fromIndex(text, segment.SentenceSpans(text), r)
}

// FromAnchor resolves an AnchorOffset against text.
func FromAnchor(text string, a common.AnchorOffset) string {
	return fromAnchor(text, segment.SentenceSpans(text), a)
}

func fromIndex(text string, spans []segment.Span, r common.IndexRange) string {
	runes := []rune(text)
	n := len(runes)
	start, end := r.Start, r.End
	if start < 0 || start > end || end > n {
		return ""
	}
	end = snapEnd(end, spans)
	return string(runes[start:end])
}

// snapEnd moves pos forward to the end of the sentence it falls strictly
// inside. Positions on a sentence boundary are left alone.
func snapEnd(pos int, spans []segment.Span) int {
	for _, s := range spans {
		if s.Start < pos && pos < s.End {
			return s.End
		}
	}
	return pos
}

func fromAnchor(text string, spans []segment.Span, a common.AnchorOffset) string {
	if len(spans) == 0 {
		return ""
	}
	runes := []rune(text)
	n := len(runes)

	idx := 0
	if pos, ok := findAnchor(text, a.Anchor); ok {
		idx = segment.SentenceIndexOf(pos, spans)
	}
	sent := spans[idx]

	end := sent.Start + a.Offset
	end = max(sent.Start, min(end, n))
	end = snapEnd(end, spans)
	if end <= sent.Start {
		end = sent.End
	}
	return strings.TrimSpace(string(runes[sent.Start:end]))
}

// findAnchor returns the character offset of anchor in text, first by exact
// match and then with whitespace runs collapsed on both sides.
func findAnchor(text, anchor string) (int, bool) {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return 0, false
	}
	if i := strings.Index(text, anchor); i >= 0 {
		return segment.RuneIndex(text, i), true
	}
	collapsed, index := segment.CollapseSpaceMap(text)
	needle := segment.CollapseSpace(anchor)
	if i := strings.Index(collapsed, needle); i >= 0 {
		return index[segment.RuneIndex(collapsed, i)], true
	}
	return 0, false
}
