package pipeline

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/relate"
)

type RelateResult struct {
	Sections int `json:"sections"`
	Entities int `json:"entities"`
	Edges    int `json:"edges"`
}

// Relate links the stored entities of the named sections and replaces all of
// their edges in one transaction.
func (p *Pipeline) Relate(ctx context.Context, sectionNames []string) (RelateResult, error) {
	var res RelateResult
	rows, err := p.store.Sections(ctx, sectionNames)
	if err != nil {
		return res, fmt.Errorf("load sections: %w", err)
	}
	if len(rows) == 0 {
		return res, nil
	}

	sectionIDs := make([]int64, 0, len(rows))
	for _, r := range rows {
		sectionIDs = append(sectionIDs, r.SectionID)
	}
	entities, err := p.store.EntitiesBySections(ctx, sectionIDs)
	if err != nil {
		return res, fmt.Errorf("load entities: %w", err)
	}
	bySection := make(map[int64][]common.Entity)
	for _, e := range entities {
		if e.SectionID != nil {
			bySection[*e.SectionID] = append(bySection[*e.SectionID], e)
		}
	}

	var edges []common.Edge
	for _, r := range rows {
		ents := bySection[r.SectionID]
		if len(ents) < 2 {
			continue
		}
		links := relate.LinkEntities(r.SectionID, r.Contents, ents)
		edges = append(edges, links.All()...)
	}

	n, err := p.store.ReplaceRelations(ctx, sectionIDs, edges)
	if err != nil {
		return res, fmt.Errorf("replace relations: %w", err)
	}
	res = RelateResult{Sections: len(rows), Entities: len(entities), Edges: n}
	logger.Info("[Pipeline][Relate] linked", "sections", res.Sections, "entities", res.Entities, "edges", res.Edges)
	return res, nil
}

// Repair reconciles entity report and section references and logs the
// mismatch counts before and after per kind.
func (p *Pipeline) Repair(ctx context.Context) ([]common.RepairStats, error) {
	stats, err := p.store.RepairReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair references: %w", err)
	}
	for _, s := range stats {
		logger.Info("[Repair] reconciled",
			"kind", s.Kind,
			"before", s.Before,
			"reports_backfilled", s.ReportsBackfill,
			"sections_resolved", s.SectionsResolved,
			"after", s.After,
		)
	}
	return stats, nil
}
