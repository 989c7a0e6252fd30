package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/go-playground/validator"

	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

type IngestResult struct {
	Deleted   int64   `json:"deleted"`
	Reports   int     `json:"reports"`
	Sections  int     `json:"sections"`
	ReportIDs []int64 `json:"report_ids"`
}

// Ingest stores parsed reports of one rating agency. With replace set, all
// earlier reports of the agency are swapped for the new ones in a single
// transaction. Reports are validated and built before anything is deleted.
func (p *Pipeline) Ingest(ctx context.Context, agency string, inputs []common.ReportInput, replace bool) (IngestResult, error) {
	var res IngestResult
	agency = strings.TrimSpace(agency)
	if agency == "" {
		return res, store.ErrEmptyAgency
	}
	if len(inputs) == 0 {
		return res, ErrNoReports
	}

	v := validator.New()
	reports := make([]common.Report, 0, len(inputs))
	for i, in := range inputs {
		if err := v.Struct(in); err != nil {
			return res, fmt.Errorf("report %d: %w", i, err)
		}
		r, err := p.buildReport(agency, in)
		if err != nil {
			return res, fmt.Errorf("report %d (%s): %w", i, in.Title, err)
		}
		reports = append(reports, r)
		res.ReportIDs = append(res.ReportIDs, r.ID)
		res.Sections += len(r.Sections)
	}

	if replace {
		n, err := p.store.ReplaceReportsByAgency(ctx, agency, reports)
		if err != nil {
			return res, fmt.Errorf("replace reports of %s: %w", agency, err)
		}
		res.Deleted = n
		logger.Info("[Pipeline][Ingest] removed previous reports", "agency", agency, "count", n)
	} else if err := p.store.InsertReports(ctx, reports); err != nil {
		return res, fmt.Errorf("insert reports: %w", err)
	}
	res.Reports = len(reports)
	logger.Info("[Pipeline][Ingest] stored reports", "agency", agency, "reports", res.Reports, "sections", res.Sections)
	return res, nil
}

func (p *Pipeline) buildReport(agency string, in common.ReportInput) (common.Report, error) {
	date, err := dateparse.ParseAny(strings.TrimSpace(in.Date))
	if err != nil {
		return common.Report{}, fmt.Errorf("invalid date %q: %w", in.Date, err)
	}
	headings := in.Headings
	if headings == nil {
		headings = []string{}
	}
	hj, err := json.Marshal(headings)
	if err != nil {
		return common.Report{}, err
	}
	id, err := p.ids.NextID()
	if err != nil {
		return common.Report{}, err
	}

	r := common.Report{
		ID:            id,
		RatingCompany: agency,
		CompanyName:   strings.TrimSpace(in.CompanyName),
		Title:         util.SanitizePostgresText(strings.TrimSpace(in.Title)),
		Words:         in.Words,
		Date:          date.Format("2006-01-02"),
		Year:          date.Year(),
		Category:      in.Category,
		Code:          in.Code,
		Language:      in.Language,
		Copyright:     util.SanitizePostgresText(in.Copyright),
		Headings:      string(hj),
	}

	words := 0
	for _, name := range sectionOrder(in) {
		contents := util.SanitizePostgresText(in.Body[name])
		sid, err := p.ids.NextID()
		if err != nil {
			return common.Report{}, err
		}
		r.Sections = append(r.Sections, common.Section{
			ID:          sid,
			ReportID:    id,
			SectionName: strings.TrimSpace(name),
			Contents:    contents,
		})
		words += len(strings.Fields(contents))
	}
	if r.Words == 0 {
		r.Words = words
	}
	return r, nil
}

// sectionOrder lists body sections in the declared order, followed by any
// remaining sections sorted by name. Blank names are skipped.
func sectionOrder(in common.ReportInput) []string {
	seen := make(map[string]struct{}, len(in.Body))
	var out []string
	for _, name := range in.SectionOrder {
		if _, ok := in.Body[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range slices.Sorted(maps.Keys(in.Body)) {
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return slices.DeleteFunc(out, func(n string) bool { return strings.TrimSpace(n) == "" })
}
