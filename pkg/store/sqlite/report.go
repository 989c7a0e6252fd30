package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

const insertReportSQL = `INSERT INTO report (
	id, rating_company, company_name, title, words, date, year,
	category, code, language, copyright, headings
) VALUES (
	:id, :rating_company, :company_name, :title, :words, :date, :year,
	:category, :code, :language, :copyright, :headings
)`

const insertSectionSQL = `INSERT INTO report_sections (id, report_id, section_name, contents)
VALUES (:id, :report_id, :section_name, :contents)`

func (s *SQLiteStorage) InsertReports(ctx context.Context, reports []common.Report) error {
	if len(reports) == 0 {
		return nil
	}
	sections := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		sections, err = insertReports(ctx, tx, reports)
		return err
	})
	if err != nil {
		return err
	}
	logger.Debug("[Store][InsertReports] inserted", "reports", len(reports), "sections", sections)
	return nil
}

func insertReports(ctx context.Context, tx *sqlx.Tx, reports []common.Report) (int, error) {
	sections := 0
	for _, r := range reports {
		if _, err := tx.NamedExecContext(ctx, insertReportSQL, r); err != nil {
			return 0, fmt.Errorf("insert report %d: %w", r.ID, err)
		}
		for _, sec := range r.Sections {
			sec.ReportID = r.ID
			if _, err := tx.NamedExecContext(ctx, insertSectionSQL, sec); err != nil {
				return 0, fmt.Errorf("insert section %q of report %d: %w", sec.SectionName, r.ID, err)
			}
			sections++
		}
	}
	return sections, nil
}

const deleteReportsSQL = `DELETE FROM report WHERE rating_company = ?`

func (s *SQLiteStorage) DeleteReportsByAgency(ctx context.Context, agency string) (int64, error) {
	agency = strings.TrimSpace(agency)
	if agency == "" {
		return 0, store.ErrEmptyAgency
	}
	res, err := s.db.ExecContext(ctx, deleteReportsSQL, agency)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) ReplaceReportsByAgency(ctx context.Context, agency string, reports []common.Report) (int64, error) {
	agency = strings.TrimSpace(agency)
	if agency == "" {
		return 0, store.ErrEmptyAgency
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, deleteReportsSQL, agency)
		if err != nil {
			return fmt.Errorf("delete reports of %s: %w", agency, err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = insertReports(ctx, tx, reports)
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Debug("[Store][ReplaceReports] replaced", "agency", agency, "deleted", deleted, "inserted", len(reports))
	return deleted, nil
}

const selectSectionsSQL = `SELECT rs.id AS section_id, rs.report_id, r.company_name, rs.section_name, rs.contents
FROM report_sections rs
JOIN report r ON r.id = rs.report_id`

func (s *SQLiteStorage) Sections(ctx context.Context, names []string) ([]common.SectionRow, error) {
	var rows []common.SectionRow
	if names == nil {
		err := s.db.SelectContext(ctx, &rows, selectSectionsSQL+` ORDER BY rs.report_id, rs.id`)
		return rows, err
	}
	names = common.NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(selectSectionsSQL+` WHERE LOWER(rs.section_name) IN (?) ORDER BY rs.report_id, rs.id`, names)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...)
	return rows, err
}

func (s *SQLiteStorage) CompanySectionIDs(ctx context.Context, scope common.CompanyScope) ([]int64, error) {
	names := common.NormalizeNames(scope.SectionNames)
	if strings.TrimSpace(scope.CompanyName) == "" || len(names) == 0 {
		return nil, nil
	}

	q := `SELECT id FROM report WHERE LOWER(company_name) = LOWER(?)`
	args := []any{strings.TrimSpace(scope.CompanyName)}
	if scope.YearMin != nil {
		q += ` AND year >= ?`
		args = append(args, *scope.YearMin)
	}
	if scope.YearMax != nil {
		q += ` AND year <= ?`
		args = append(args, *scope.YearMax)
	}
	q += ` ORDER BY date DESC, id DESC`
	if scope.ReportLimit > 0 {
		q += ` LIMIT ?`
		args = append(args, scope.ReportLimit)
	}

	var reportIDs []int64
	if err := s.db.SelectContext(ctx, &reportIDs, q, args...); err != nil {
		return nil, fmt.Errorf("select company reports: %w", err)
	}
	if len(reportIDs) == 0 {
		return nil, nil
	}

	var out []int64
	err := store.ChunkRange(len(reportIDs), maxParams, func(start, end int) error {
		q, args, err := sqlx.In(`SELECT id FROM report_sections
WHERE report_id IN (?) AND LOWER(section_name) IN (?)
ORDER BY id`, reportIDs[start:end], names)
		if err != nil {
			return err
		}
		var ids []int64
		if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(q), args...); err != nil {
			return err
		}
		out = append(out, ids...)
		return nil
	})
	return out, err
}

func (s *SQLiteStorage) GlobalSectionIDs(ctx context.Context, names []string) ([]int64, error) {
	names = common.NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT id FROM report_sections WHERE LOWER(section_name) IN (?) ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	var ids []int64
	err = s.db.SelectContext(ctx, &ids, s.db.Rebind(q), args...)
	return ids, err
}
