package common

import "fmt"

// Kind is one of the three extracted entity kinds.
type Kind int

const (
	KindEvent Kind = iota
	KindFactor
	KindVariable
)

// Kinds lists every kind in storage order.
var Kinds = [...]Kind{KindEvent, KindFactor, KindVariable}

type kindMeta struct {
	name           string
	table          string
	relationColumn string
	mapTable       string
	canonicalTable string
}

// Only these constant strings are ever placed into SQL text.
var kindTable = [...]kindMeta{
	KindEvent: {
		name:           "event",
		table:          "event",
		relationColumn: "event_id",
		mapTable:       "event_to_canonical_map",
		canonicalTable: "canonical_event",
	},
	KindFactor: {
		name:           "factor",
		table:          "factor",
		relationColumn: "factor_id",
		mapTable:       "factor_to_canonical_map",
		canonicalTable: "canonical_factor",
	},
	KindVariable: {
		name:           "variable",
		table:          "variable",
		relationColumn: "variable_id",
		mapTable:       "variable_to_canonical_map",
		canonicalTable: "canonical_variable",
	},
}

func (k Kind) Valid() bool {
	return k >= KindEvent && k <= KindVariable
}

func (k Kind) meta() kindMeta {
	if !k.Valid() {
		panic(fmt.Sprintf("common: invalid kind %d", int(k)))
	}
	return kindTable[k]
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindTable[k].name
}

// Table is the entity table of the kind.
func (k Kind) Table() string { return k.meta().table }

// RelationColumn is the event_relation column referencing the kind.
func (k Kind) RelationColumn() string { return k.meta().relationColumn }

// MapTable is the optional raw id to canonical id mapping table.
func (k Kind) MapTable() string { return k.meta().mapTable }

// CanonicalTable is the optional canonical name table.
func (k Kind) CanonicalTable() string { return k.meta().canonicalTable }

// ParseKind accepts the singular kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if kindTable[k].name == NormalizeName(s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrUnknownKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
