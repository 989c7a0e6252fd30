package extract

import "github.com/OFFIS-RIT/compass/backend/pkg/segment"

// DefaultExcludeSections lists section names that never carry EFV content.
var DefaultExcludeSections = []string{
	"contacts",
	"contact",
	"issuer profile",
	"summary of financial adjustments",
	"references for substantially material source cited as key driver of rating",
	"macroeconomic assumptions and sector forecasts",
}

// SectionFilter matches section names against an exclusion list after
// NormalizeForMatch, so case and punctuation differences are ignored.
type SectionFilter map[string]struct{}

func NewSectionFilter(names []string) SectionFilter {
	f := make(SectionFilter, len(names))
	for _, n := range names {
		if k := segment.NormalizeForMatch(n); k != "" {
			f[k] = struct{}{}
		}
	}
	return f
}

func (f SectionFilter) Excluded(sectionName string) bool {
	_, ok := f[segment.NormalizeForMatch(sectionName)]
	return ok
}
