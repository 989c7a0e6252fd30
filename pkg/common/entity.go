package common

import "fmt"

// Entity is one extracted event, factor or variable mention.
//
// SectionID may be nil when extraction could not attribute the mention to a
// single section. EventType is only set for events, Value and Unit only for
// variables.
type Entity struct {
	Kind        Kind      `json:"kind"`
	ID          int64     `json:"id"`
	ReportID    int64     `json:"report_id"`
	SectionID   *int64    `json:"section_id"`
	SectionName string    `json:"section_name"`
	Name        string    `json:"name"`
	Evidence    string    `json:"evidence"`
	Period      *string   `json:"period"`
	EventType   EventType `json:"event_type,omitempty"`
	Value       string    `json:"value,omitempty"`
	Unit        *string   `json:"unit,omitempty"`
}

// Ref identifies an entity across kinds.
type Ref struct {
	Kind Kind
	ID   int64
}

func (e Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

// Edge is a scored link between two entities of different kinds within one
// section. Exactly two of the id fields are set; build edges with NewEdge.
type Edge struct {
	SectionID  int64   `json:"section_id" db:"section_id"`
	EventID    *int64  `json:"event_id" db:"event_id"`
	FactorID   *int64  `json:"factor_id" db:"factor_id"`
	VariableID *int64  `json:"variable_id" db:"variable_id"`
	Score      float64 `json:"score" db:"score"`
}

// NewEdge links a and b. Both refs must be valid and of different kinds.
func NewEdge(sectionID int64, a, b Ref, score float64) (Edge, error) {
	if !a.Kind.Valid() || !b.Kind.Valid() {
		return Edge{}, ErrUnknownKind
	}
	if a.Kind == b.Kind {
		return Edge{}, fmt.Errorf("edge endpoints must differ in kind, both are %s", a.Kind)
	}
	e := Edge{SectionID: sectionID, Score: score}
	for _, r := range [2]Ref{a, b} {
		id := r.ID
		switch r.Kind {
		case KindEvent:
			e.EventID = &id
		case KindFactor:
			e.FactorID = &id
		case KindVariable:
			e.VariableID = &id
		}
	}
	return e, nil
}

// Locator points back at evidence inside a passage. It is either an
// IndexRange or an AnchorOffset.
type Locator interface {
	isLocator()
}

// IndexRange is a pair of character offsets into the passage.
type IndexRange struct {
	Start int
	End   int
}

// AnchorOffset is a short verbatim anchor plus a character length measured
// from the start of the sentence containing the anchor.
type AnchorOffset struct {
	Anchor string
	Offset int
}

func (IndexRange) isLocator()   {}
func (AnchorOffset) isLocator() {}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
