package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/extract"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/rules"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

// Extract runs the extractor over the named sections (nil selects all) and
// replaces the stored entities of those sections with the new ones.
func (p *Pipeline) Extract(ctx context.Context, sectionNames []string) (common.Counts, error) {
	if p.extractor == nil {
		return common.Counts{}, ErrNoExtractor
	}
	rows, err := p.sections(ctx, sectionNames)
	if err != nil {
		return common.Counts{}, err
	}

	var entities []common.Entity
	switch p.cfg.Mode {
	case extract.ModeAggregate:
		entities, err = p.extractAggregate(ctx, rows)
	default:
		entities, err = p.extractPassages(ctx, rows)
	}
	if err != nil {
		return common.Counts{}, err
	}
	logger.Info("[Pipeline][Extract] extracted", "mode", p.cfg.Mode, "sections", len(rows), "entities", len(entities))
	return p.replaceEntities(ctx, sectionNames, entities)
}

// ExtractRules replaces the entities of the named sections with variables
// found by the rule banks.
func (p *Pipeline) ExtractRules(ctx context.Context, sectionNames []string) (common.Counts, error) {
	rows, err := p.sections(ctx, sectionNames)
	if err != nil {
		return common.Counts{}, err
	}
	var entities []common.Entity
	for _, row := range rows {
		for _, m := range rules.ExtractText(row.Contents) {
			entities = append(entities, attach(m.Entity(), row))
		}
	}
	logger.Info("[Pipeline][Rules] extracted", "sections", len(rows), "variables", len(entities))
	return p.replaceEntities(ctx, sectionNames, entities)
}

// sections loads the named sections and drops excluded ones.
func (p *Pipeline) sections(ctx context.Context, names []string) ([]common.SectionRow, error) {
	rows, err := p.store.Sections(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	kept := rows[:0]
	for _, r := range rows {
		if p.filter.Excluded(r.SectionName) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

func (p *Pipeline) extractPassages(ctx context.Context, rows []common.SectionRow) ([]common.Entity, error) {
	results, err := p.extractor.ExtractSections(ctx, rows)
	if err != nil {
		return nil, err
	}
	var out []common.Entity
	for _, r := range results {
		for _, e := range r.All() {
			out = append(out, attach(e, r.SectionRow))
		}
	}
	return out, nil
}

type companyText struct {
	name string
	rows []common.SectionRow
}

func groupByCompany(rows []common.SectionRow) []companyText {
	var out []companyText
	idx := make(map[string]int)
	for _, r := range rows {
		key := common.NormalizeName(r.CompanyName)
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, companyText{name: r.CompanyName})
		}
		out[i].rows = append(out[i].rows, r)
	}
	return out
}

// extractAggregate sends all text of one company in a single call and
// attributes each entity to the first section containing its evidence.
func (p *Pipeline) extractAggregate(ctx context.Context, rows []common.SectionRow) ([]common.Entity, error) {
	var out []common.Entity
	for _, c := range groupByCompany(rows) {
		parts := make([]string, 0, len(c.rows))
		for _, r := range c.rows {
			if s := strings.TrimSpace(r.Contents); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			continue
		}
		res, err := p.extractor.ExtractAggregate(ctx, strings.Join(parts, "\n\n"))
		if err != nil {
			return nil, fmt.Errorf("company %s: %w", c.name, err)
		}
		for _, e := range res.All() {
			out = append(out, attribute(e, c.rows))
		}
	}
	return out, nil
}

// attribute places e in the first section whose text holds its evidence.
// Entities that cannot be placed keep a nil section id and take the report
// and section name of the company's first section.
func attribute(e common.Entity, rows []common.SectionRow) common.Entity {
	if ev := strings.TrimSpace(e.Evidence); ev != "" {
		needle := segment.CollapseSpace(ev)
		for _, r := range rows {
			if strings.Contains(r.Contents, ev) || strings.Contains(segment.CollapseSpace(r.Contents), needle) {
				return attach(e, r)
			}
		}
	}
	e = attach(e, rows[0])
	e.SectionID = nil
	return e
}

func attach(e common.Entity, row common.SectionRow) common.Entity {
	e.ReportID = row.ReportID
	e.SectionID = common.Ptr(row.SectionID)
	e.SectionName = row.SectionName
	return e
}

// replaceEntities assigns ids and swaps the previous entities of the named
// sections for the new set in one transaction.
func (p *Pipeline) replaceEntities(ctx context.Context, sectionNames []string, entities []common.Entity) (common.Counts, error) {
	kept := make([]common.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			logger.Debug("[Pipeline] dropping entity without name", "kind", e.Kind, "section", e.SectionName)
			continue
		}
		id, err := p.ids.NextID()
		if err != nil {
			return common.Counts{}, err
		}
		e.ID = id
		kept = append(kept, e)
	}

	deleted, counts, err := p.store.ReplaceEntities(ctx, sectionNames, kept)
	if err != nil {
		return common.Counts{}, fmt.Errorf("replace entities: %w", err)
	}
	logger.Info("[Pipeline] stored entities", "replaced", deleted.Total(),
		"events", counts.Events, "factors", counts.Factors, "variables", counts.Variables)
	return counts, nil
}
