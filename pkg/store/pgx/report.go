package pgx

import (
	"context"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

const insertReportSQL = `INSERT INTO report (
	id, rating_company, company_name, title, words, date, year,
	category, code, language, copyright, headings
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::date, $7, $8, $9, $10, $11, COALESCE(NULLIF($12, ''), '[]')::jsonb)`

const insertSectionSQL = `INSERT INTO report_sections (id, report_id, section_name, contents)
VALUES ($1, $2, $3, $4)`

func (s *PGStorage) InsertReports(ctx context.Context, reports []common.Report) error {
	if len(reports) == 0 {
		return nil
	}
	sections := 0
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
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

func insertReports(ctx context.Context, tx pgxv5.Tx, reports []common.Report) (int, error) {
	sections := 0
	batch := &pgxv5.Batch{}
	for _, r := range reports {
		batch.Queue(insertReportSQL,
			r.ID, r.RatingCompany, r.CompanyName, r.Title, r.Words, r.Date, r.Year,
			r.Category, r.Code, r.Language, r.Copyright, r.Headings,
		)
		for _, sec := range r.Sections {
			batch.Queue(insertSectionSQL, sec.ID, r.ID, sec.SectionName, sec.Contents)
			sections++
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert reports: %w", err)
	}
	return sections, nil
}

const deleteReportsSQL = `DELETE FROM report WHERE rating_company = $1`

func (s *PGStorage) DeleteReportsByAgency(ctx context.Context, agency string) (int64, error) {
	agency = strings.TrimSpace(agency)
	if agency == "" {
		return 0, store.ErrEmptyAgency
	}
	tag, err := s.conn.Exec(ctx, deleteReportsSQL, agency)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStorage) ReplaceReportsByAgency(ctx context.Context, agency string, reports []common.Report) (int64, error) {
	agency = strings.TrimSpace(agency)
	if agency == "" {
		return 0, store.ErrEmptyAgency
	}
	var deleted int64
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		tag, err := tx.Exec(ctx, deleteReportsSQL, agency)
		if err != nil {
			return fmt.Errorf("delete reports of %s: %w", agency, err)
		}
		deleted = tag.RowsAffected()
		if len(reports) == 0 {
			return nil
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

const selectSectionsSQL = `SELECT rs.id, rs.report_id, r.company_name, rs.section_name, rs.contents
FROM report_sections rs
JOIN report r ON r.id = rs.report_id`

func (s *PGStorage) Sections(ctx context.Context, names []string) ([]common.SectionRow, error) {
	var (
		rows pgxv5.Rows
		err  error
	)
	if names == nil {
		rows, err = s.conn.Query(ctx, selectSectionsSQL+` ORDER BY rs.report_id, rs.id`)
	} else {
		names = common.NormalizeNames(names)
		if len(names) == 0 {
			return nil, nil
		}
		rows, err = s.conn.Query(ctx, selectSectionsSQL+`
WHERE LOWER(rs.section_name) = ANY($1)
ORDER BY rs.report_id, rs.id`, names)
	}
	if err != nil {
		return nil, fmt.Errorf("select sections: %w", err)
	}
	defer rows.Close()

	var out []common.SectionRow
	for rows.Next() {
		var r common.SectionRow
		if err := rows.Scan(&r.SectionID, &r.ReportID, &r.CompanyName, &r.SectionName, &r.Contents); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStorage) CompanySectionIDs(ctx context.Context, scope common.CompanyScope) ([]int64, error) {
	names := common.NormalizeNames(scope.SectionNames)
	company := strings.TrimSpace(scope.CompanyName)
	if company == "" || len(names) == 0 {
		return nil, nil
	}

	var limit *int
	if scope.ReportLimit > 0 {
		limit = &scope.ReportLimit
	}
	rows, err := s.conn.Query(ctx, `WITH reports AS (
	SELECT id FROM report
	WHERE LOWER(company_name) = LOWER($1)
	  AND ($2::int IS NULL OR year >= $2)
	  AND ($3::int IS NULL OR year <= $3)
	ORDER BY date DESC NULLS LAST, id DESC
	LIMIT $4
)
SELECT rs.id FROM report_sections rs
JOIN reports r ON r.id = rs.report_id
WHERE LOWER(rs.section_name) = ANY($5)
ORDER BY rs.id`, company, scope.YearMin, scope.YearMax, limit, names)
	if err != nil {
		return nil, fmt.Errorf("select company sections: %w", err)
	}
	return collectIDs(rows)
}

func (s *PGStorage) GlobalSectionIDs(ctx context.Context, names []string) ([]int64, error) {
	names = common.NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx,
		`SELECT id FROM report_sections WHERE LOWER(section_name) = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, fmt.Errorf("select global sections: %w", err)
	}
	return collectIDs(rows)
}
