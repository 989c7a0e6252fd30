// Package relate links extracted entities of one section by sentence
// adjacency.
package relate

import (
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

const (
	SameSentenceScore     = 1.0
	AdjacentSentenceScore = 0.5

	anchorChars = 10
)

// Located is an entity whose evidence was found in the section text.
type Located struct {
	Entity    common.Entity
	Start     int
	End       int
	Sentence  int
	Paragraph int
}

// Links holds the edges of one section grouped by kind pair.
type Links struct {
	EventFactor    []common.Edge
	EventVariable  []common.Edge
	FactorVariable []common.Edge
}

// All returns every edge in event-factor, event-variable, factor-variable order.
func (l Links) All() []common.Edge {
	out := make([]common.Edge, 0, len(l.EventFactor)+len(l.EventVariable)+len(l.FactorVariable))
	out = append(out, l.EventFactor...)
	out = append(out, l.EventVariable...)
	return append(out, l.FactorVariable...)
}

func (l Links) Len() int {
	return len(l.EventFactor) + len(l.EventVariable) + len(l.FactorVariable)
}

// Score returns the edge score for two sentence indices and false when no
// edge should exist.
func Score(a, b int) (float64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	switch d := a - b; {
	case d == 0:
		return SameSentenceScore, true
	case d == 1 || d == -1:
		return AdjacentSentenceScore, true
	}
	return 0, false
}

// Link scores every cross-kind pair of entities in the section. Entities whose
// evidence cannot be found in text are skipped.
func Link(sectionID int64, text string, events, factors, variables []common.Entity) Links {
	spans := segment.SentenceSpans(text)
	paras := segment.ParagraphSpans(text)

	evs := Locate(text, spans, paras, events)
	fcs := Locate(text, spans, paras, factors)
	vrs := Locate(text, spans, paras, variables)

	return Links{
		EventFactor:    pairs(sectionID, evs, fcs),
		EventVariable:  pairs(sectionID, evs, vrs),
		FactorVariable: pairs(sectionID, fcs, vrs),
	}
}

// LinkEntities splits a mixed entity list by kind and links it.
func LinkEntities(sectionID int64, text string, entities []common.Entity) Links {
	var byKind [3][]common.Entity
	for _, e := range entities {
		if e.Kind.Valid() {
			byKind[e.Kind] = append(byKind[e.Kind], e)
		}
	}
	return Link(sectionID, text, byKind[common.KindEvent], byKind[common.KindFactor], byKind[common.KindVariable])
}

func pairs(sectionID int64, as, bs []Located) []common.Edge {
	var out []common.Edge
	for _, a := range as {
		for _, b := range bs {
			score, ok := Score(a.Sentence, b.Sentence)
			if !ok {
				continue
			}
			edge, err := common.NewEdge(sectionID, a.Entity.Ref(), b.Entity.Ref(), score)
			if err != nil {
				continue
			}
			out = append(out, edge)
		}
	}
	return out
}

// Locate finds each entity's evidence in text and attaches sentence and
// paragraph indices.
func Locate(text string, spans, paras []segment.Span, entities []common.Entity) []Located {
	out := make([]Located, 0, len(entities))
	n := utf8.RuneCountInString(text)
	for _, e := range entities {
		start, ok := findEvidence(text, e.Evidence)
		if !ok {
			continue
		}
		end := start + utf8.RuneCountInString(e.Evidence)
		if start < 0 || end > n {
			continue
		}
		out = append(out, Located{
			Entity:    e,
			Start:     start,
			End:       end,
			Sentence:  segment.SentenceIndexOf(start, spans),
			Paragraph: segment.ParagraphIndexOf(start, paras),
		})
	}
	return out
}

// findEvidence returns the character offset of ev in text. When the exact
// search fails but the whitespace-collapsed evidence occurs in the collapsed
// text, the first characters of ev are searched as an anchor.
func findEvidence(text, ev string) (int, bool) {
	if ev == "" {
		return 0, false
	}
	if i := strings.Index(text, ev); i >= 0 {
		return segment.RuneIndex(text, i), true
	}
	needle := segment.CollapseSpace(strings.TrimSpace(ev))
	if needle == "" || !strings.Contains(segment.CollapseSpace(text), needle) {
		return 0, false
	}
	anchor := ev
	if r := []rune(ev); len(r) > anchorChars {
		anchor = string(r[:anchorChars])
	}
	if i := strings.Index(text, anchor); i >= 0 {
		return segment.RuneIndex(text, i), true
	}
	return 0, false
}
