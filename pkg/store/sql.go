package store

import (
	"fmt"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// The statements below contain no placeholders and are valid for both
// PostgreSQL and SQLite. Table names come from common.Kind metadata only.

// MismatchCountSQL counts entities whose section belongs to another report.
func MismatchCountSQL(kind common.Kind) string {
	return fmt.Sprintf(`SELECT COUNT(1)
FROM %[1]s e
JOIN report_sections rs ON rs.id = e.section_id
WHERE rs.report_id <> e.report_id`, kind.Table())
}

// BackfillReportSQL copies report_id from the section an entity points to.
func BackfillReportSQL(kind common.Kind) string {
	return fmt.Sprintf(`UPDATE %[1]s
SET report_id = (SELECT rs.report_id FROM report_sections rs WHERE rs.id = %[1]s.section_id)
WHERE section_id IS NOT NULL
  AND EXISTS (
    SELECT 1 FROM report_sections rs
    WHERE rs.id = %[1]s.section_id AND rs.report_id <> %[1]s.report_id
  )`, kind.Table())
}

// ResolveSectionSQL fills a missing section_id when exactly one section of the
// entity's report carries the entity's section name.
func ResolveSectionSQL(kind common.Kind) string {
	return fmt.Sprintf(`UPDATE %[1]s
SET section_id = (
    SELECT rs.id FROM report_sections rs
    WHERE rs.report_id = %[1]s.report_id
      AND LOWER(rs.section_name) = LOWER(%[1]s.section_name)
  )
WHERE section_id IS NULL
  AND (
    SELECT COUNT(1) FROM report_sections rs
    WHERE rs.report_id = %[1]s.report_id
      AND LOWER(rs.section_name) = LOWER(%[1]s.section_name)
  ) = 1`, kind.Table())
}

// Execer runs one statement inside a backend transaction. Exec returns the
// affected row count, Count the single integer the query selects.
type Execer interface {
	Exec(query string) (int64, error)
	Count(query string) (int64, error)
}

// Repair runs the reference repair statements for every kind through ex.
func Repair(ex Execer) ([]common.RepairStats, error) {
	stats := make([]common.RepairStats, 0, len(common.Kinds))
	for _, kind := range common.Kinds {
		st := common.RepairStats{Kind: kind}
		var err error
		if st.Before, err = ex.Count(MismatchCountSQL(kind)); err != nil {
			return nil, fmt.Errorf("count %s mismatches: %w", kind, err)
		}
		if st.ReportsBackfill, err = ex.Exec(BackfillReportSQL(kind)); err != nil {
			return nil, fmt.Errorf("backfill %s report ids: %w", kind, err)
		}
		if st.SectionsResolved, err = ex.Exec(ResolveSectionSQL(kind)); err != nil {
			return nil, fmt.Errorf("resolve %s section ids: %w", kind, err)
		}
		if st.After, err = ex.Count(MismatchCountSQL(kind)); err != nil {
			return nil, fmt.Errorf("recount %s mismatches: %w", kind, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}
