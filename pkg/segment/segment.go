// Package segment splits report text into passages for the extraction model
// and provides the sentence and paragraph spans shared with evidence
// reconstruction and relation linking.
//
// All lengths and offsets are counted in characters (runes), not bytes.
package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 1800
	// hardSliceLookahead bounds how far a hard cut may move to reach whitespace.
	hardSliceLookahead = 200
)

// Options configures Segment.
type Options struct {
	// MaxChars is the passage budget. Values <= 0 use DefaultMaxChars.
	MaxChars int
	// OverlapSentences is how many trailing sentences of a sub-passage are
	// repeated at the start of the next one when a paragraph is split.
	OverlapSentences int
}

func (o Options) normalized() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.OverlapSentences < 0 {
		o.OverlapSentences = 0
	}
	return o
}

var (
	innerNewline     = regexp.MustCompile(`\s*\n\s*`)
	sentenceBoundary = regexp.MustCompile(`[。！？；.!?]([\s\p{Z}]+)`)
	abbreviationEnd  = regexp.MustCompile(`(?i)(?:Mr|Ms|Mrs|Dr|Prof|Sr|Jr|vs|No|Inc|Ltd|Co|Corp|Mt|St|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec|U\.S|U\.K|e\.g|i\.e|etc)\.$`)
	closingTail      = regexp.MustCompile(`^[)"\]’”'》】）]+$`)
)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Segment packs whole paragraphs into passages of at most MaxChars characters.
// A paragraph longer than the budget is split into sentences, which are packed
// with OverlapSentences of overlap. Only a single sentence longer than the
// budget is cut inside, at the next whitespace after the budget.
func Segment(text string, opts Options) []string {
	opts = opts.normalized()
	var passages []string
	var buf string

	flush := func() {
		if s := strings.TrimSpace(buf); s != "" {
			passages = append(passages, s)
		}
		buf = ""
	}

	for _, p := range Paragraphs(text) {
		if runeLen(p) > opts.MaxChars {
			flush()
			sents := Sentences(p)
			if len(sents) == 0 {
				passages = append(passages, hardSlice(p, opts.MaxChars)...)
				continue
			}
			passages = append(passages, packSentences(fitSentences(sents, opts.MaxChars), opts)...)
			continue
		}
		if buf == "" {
			buf = p
			continue
		}
		if runeLen(buf)+1+runeLen(p) <= opts.MaxChars {
			buf = buf + " " + p
		} else {
			flush()
			buf = p
		}
	}
	flush()
	return passages
}

// Paragraphs splits on blank lines and joins the lines of each paragraph with
// a single space. Empty paragraphs are dropped.
func Paragraphs(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	var out []string
	for _, raw := range paragraphBreak.Split(text, -1) {
		p := strings.TrimSpace(innerNewline.ReplaceAllString(raw, " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences splits a paragraph after terminators followed by whitespace.
// Pieces ending in a known abbreviation such as "U.S." or "Inc." are joined
// with the next piece, and short tails made only of closing quotes or brackets
// are attached to the previous sentence.
func Sentences(para string) []string {
	para = strings.TrimSpace(para)
	if para == "" {
		return nil
	}

	var parts []string
	last := 0
	for _, m := range sentenceBoundary.FindAllStringSubmatchIndex(para, -1) {
		if piece := strings.TrimSpace(para[last:m[2]]); piece != "" {
			parts = append(parts, piece)
		}
		last = m[3]
	}
	if piece := strings.TrimSpace(para[last:]); piece != "" {
		parts = append(parts, piece)
	}

	merged := make([]string, 0, len(parts))
	for _, piece := range parts {
		if n := len(merged); n > 0 && abbreviationEnd.MatchString(merged[n-1]) {
			merged[n-1] = merged[n-1] + " " + piece
			continue
		}
		merged = append(merged, piece)
	}

	out := make([]string, 0, len(merged))
	for _, s := range merged {
		if n := len(out); n > 0 && runeLen(s) < 6 && closingTail.MatchString(s) {
			out[n-1] = out[n-1] + " " + s
			continue
		}
		out = append(out, s)
	}
	return out
}

// fitSentences hard-slices every sentence longer than the budget.
func fitSentences(sents []string, maxChars int) []string {
	out := make([]string, 0, len(sents))
	for _, s := range sents {
		if runeLen(s) > maxChars {
			out = append(out, hardSlice(s, maxChars)...)
			continue
		}
		out = append(out, s)
	}
	return out
}

func packSentences(sents []string, opts Options) []string {
	var passages []string
	n := len(sents)
	for i := 0; i < n; {
		chunk := sents[i]
		size := runeLen(chunk)
		j := i + 1
		for j < n && size+1+runeLen(sents[j]) <= opts.MaxChars {
			chunk = chunk + " " + sents[j]
			size += 1 + runeLen(sents[j])
			j++
		}
		passages = append(passages, chunk)
		if j >= n {
			break
		}
		i = max(i+1, j-opts.OverlapSentences)
	}
	return passages
}

// hardSlice cuts s every maxChars characters, moving each cut forward to the
// next whitespace when one exists within the lookahead window.
func hardSlice(s string, maxChars int) []string {
	runes := []rune(s)
	n := len(runes)
	var out []string
	for start := 0; start < n; {
		end := min(start+maxChars, n)
		if end < n {
			limit := min(n, end+hardSliceLookahead)
			for k := end; k < limit; k++ {
				if isSpace(runes[k]) {
					end = k
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		start = end
	}
	return out
}
