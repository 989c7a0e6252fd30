package segment

import (
	"strings"
	"unicode"
)

// CollapseSpace replaces every run of whitespace, non-breaking spaces
// included, with a single space. The ends are not trimmed.
func CollapseSpace(s string) string {
	out, _ := CollapseSpaceMap(s)
	return out
}

// CollapseSpaceMap collapses like CollapseSpace and also returns, for each
// character of the result, its character offset in s.
func CollapseSpaceMap(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	index := make([]int, 0, len(s))
	inSpace := false
	pos := 0
	for _, r := range s {
		if isSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				index = append(index, pos)
			}
			inSpace = true
		} else {
			b.WriteRune(r)
			index = append(index, pos)
			inSpace = false
		}
		pos++
	}
	return b.String(), index
}

// CleanText collapses whitespace and trims both ends.
func CleanText(s string) string {
	return strings.TrimSpace(CollapseSpace(s))
}

// NormalizeForMatch lowercases s, turns everything except ASCII letters,
// digits and whitespace into spaces, then collapses and trims. It is only used
// to compare names, never to produce stored text.
func NormalizeForMatch(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
