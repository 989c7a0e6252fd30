package store

import (
	"fmt"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// EntityRow is the column layout shared by the event, factor and variable
// tables. Columns a table lacks are left at their zero value.
type EntityRow struct {
	ID          int64   `db:"id"`
	ReportID    int64   `db:"report_id"`
	SectionID   *int64  `db:"section_id"`
	SectionName string  `db:"section_name"`
	Name        string  `db:"name"`
	Evidence    string  `db:"evidence"`
	Period      *string `db:"period"`
	EventType   string  `db:"event_type"`
	Value       string  `db:"value"`
	Unit        *string `db:"unit"`
}

func NewEntityRow(e common.Entity) EntityRow {
	return EntityRow{
		ID:          e.ID,
		ReportID:    e.ReportID,
		SectionID:   e.SectionID,
		SectionName: e.SectionName,
		Name:        e.Name,
		Evidence:    e.Evidence,
		Period:      e.Period,
		EventType:   string(e.EventType),
		Value:       e.Value,
		Unit:        e.Unit,
	}
}

func (r EntityRow) Entity(kind common.Kind) common.Entity {
	return common.Entity{
		Kind:        kind,
		ID:          r.ID,
		ReportID:    r.ReportID,
		SectionID:   r.SectionID,
		SectionName: r.SectionName,
		Name:        r.Name,
		Evidence:    r.Evidence,
		Period:      r.Period,
		EventType:   common.EventType(r.EventType),
		Value:       r.Value,
		Unit:        r.Unit,
	}
}

// EntityColumns lists the columns of the kind's table in insert order.
func EntityColumns(kind common.Kind) []string {
	switch kind {
	case common.KindEvent:
		return []string{"id", "report_id", "section_id", "section_name", "name", "evidence", "event_type", "period"}
	case common.KindFactor:
		return []string{"id", "report_id", "section_id", "section_name", "name", "evidence", "period"}
	case common.KindVariable:
		return []string{"id", "report_id", "section_id", "section_name", "name", "value", "unit", "period", "evidence"}
	}
	return nil
}

// Args returns the row's values in EntityColumns order.
func (r EntityRow) Args(kind common.Kind) []any {
	switch kind {
	case common.KindEvent:
		return []any{r.ID, r.ReportID, r.SectionID, r.SectionName, r.Name, r.Evidence, r.EventType, r.Period}
	case common.KindFactor:
		return []any{r.ID, r.ReportID, r.SectionID, r.SectionName, r.Name, r.Evidence, r.Period}
	case common.KindVariable:
		return []any{r.ID, r.ReportID, r.SectionID, r.SectionName, r.Name, r.Value, r.Unit, r.Period, r.Evidence}
	}
	return nil
}

// AggregateScoresSQL sums edge scores per entity of kind. The caller appends
// the section id filter in its own placeholder syntax after "WHERE ".
func AggregateScoresSQL(kind common.Kind, filter string) string {
	return fmt.Sprintf(`SELECT e.id, e.name, e.section_name, SUM(r.score) AS score
FROM event_relation r
JOIN %[1]s e ON e.id = r.%[2]s
WHERE %[3]s
GROUP BY e.id, e.name, e.section_name`, kind.Table(), kind.RelationColumn(), filter)
}

// MergeScores folds per-chunk aggregation rows into one row per entity.
func MergeScores(rows []common.ScoredEntity) []common.ScoredEntity {
	idx := make(map[int64]int, len(rows))
	out := make([]common.ScoredEntity, 0, len(rows))
	for _, r := range rows {
		if i, ok := idx[r.ID]; ok {
			out[i].Score += r.Score
			continue
		}
		idx[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// CanonicalRow is one raw id joined with its canonical identity.
type CanonicalRow struct {
	RawID         int64  `db:"raw_id"`
	CanonicalID   int64  `db:"canonical_id"`
	CanonicalName string `db:"canonical_name"`
}

// CanonicalMapSQL joins the kind's mapping table with its canonical table. The
// caller supplies the raw id filter on alias m.
func CanonicalMapSQL(kind common.Kind, filter string) string {
	return fmt.Sprintf(`SELECT m.raw_id, m.canonical_id, c.canonical_name
FROM %[1]s m
JOIN %[2]s c ON c.id = m.canonical_id
WHERE %[3]s`, kind.MapTable(), kind.CanonicalTable(), filter)
}
