package common

import (
	"errors"
	"strings"
)

var (
	ErrUnknownKind      = errors.New("unknown entity kind")
	ErrInvalidEventType = errors.New("invalid event type")
)

// Report is a rated-entity document as stored in the report table. Reports are
// immutable once ingested and are removed in bulk by rating agency.
type Report struct {
	ID            int64     `json:"id" db:"id"`
	RatingCompany string    `json:"rating_company" db:"rating_company"`
	CompanyName   string    `json:"company_name" db:"company_name"`
	Title         string    `json:"title" db:"title"`
	Words         int       `json:"words" db:"words"`
	Date          string    `json:"date" db:"date"`
	Year          int       `json:"year" db:"year"`
	Category      string    `json:"category" db:"category"`
	Code          string    `json:"code" db:"code"`
	Language      string    `json:"language" db:"language"`
	Copyright     string    `json:"copyright" db:"copyright"`
	Headings      string    `json:"headings" db:"headings"`
	Sections      []Section `json:"sections" db:"-"`
}

// Section is a named part of a report body.
type Section struct {
	ID          int64  `json:"id" db:"id"`
	ReportID    int64  `json:"report_id" db:"report_id"`
	SectionName string `json:"section_name" db:"section_name"`
	Contents    string `json:"contents" db:"contents"`
}

// SectionRow is a section joined with the company owning its report.
type SectionRow struct {
	SectionID   int64  `json:"section_id" db:"section_id"`
	ReportID    int64  `json:"report_id" db:"report_id"`
	CompanyName string `json:"company_name" db:"company_name"`
	SectionName string `json:"section_name" db:"section_name"`
	Contents    string `json:"contents" db:"contents"`
}

// ReportInput is a parsed report as produced by the HTML report parser.
// Body maps section names to their text; SectionOrder keeps the document order
// when it is known.
type ReportInput struct {
	CompanyName  string            `json:"company_name" validate:"required"`
	Title        string            `json:"title"`
	Words        int               `json:"words"`
	Date         string            `json:"date"`
	Category     string            `json:"category"`
	Code         string            `json:"code"`
	Language     string            `json:"language"`
	Copyright    string            `json:"copyright"`
	Headings     []string          `json:"headings"`
	Body         map[string]string `json:"body_text"`
	SectionOrder []string          `json:"section_order,omitempty"`
}

// Counts reports how many rows of each entity kind were touched.
type Counts struct {
	Events    int64 `json:"events"`
	Factors   int64 `json:"factors"`
	Variables int64 `json:"variables"`
}

func (c Counts) Total() int64 {
	return c.Events + c.Factors + c.Variables
}

// Add increments the counter for kind by n.
func (c *Counts) Add(kind Kind, n int64) {
	switch kind {
	case KindEvent:
		c.Events += n
	case KindFactor:
		c.Factors += n
	case KindVariable:
		c.Variables += n
	}
}

// CompanyScope selects the sections of one company's reports.
//
// YearMin and YearMax are inclusive bounds, ignored when nil. ReportLimit keeps
// only the most recent reports by date when greater than zero.
type CompanyScope struct {
	CompanyName  string
	SectionNames []string
	YearMin      *int
	YearMax      *int
	ReportLimit  int
}

// ScoredEntity is one row of a per-kind score aggregation.
type ScoredEntity struct {
	ID          int64   `db:"id"`
	Name        string  `db:"name"`
	SectionName string  `db:"section_name"`
	Score       float64 `db:"score"`
}

// Canonical is the canonical identity a raw entity id maps to.
type Canonical struct {
	ID   int64  `db:"canonical_id"`
	Name string `db:"canonical_name"`
}

// RepairStats are the mismatch counts of the reference repair pass for one kind.
type RepairStats struct {
	Kind             Kind
	Before           int64
	ReportsBackfill  int64
	SectionsResolved int64
	After            int64
}

// NormalizeName lowercases and trims a name for case-insensitive grouping.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeNames applies NormalizeName and drops empty values and duplicates.
func NormalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
