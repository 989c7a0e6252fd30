package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

var ErrEmptyAgency = errors.New("rating agency must not be empty")

// EFVStorage persists reports, sections, extracted entities and relation
// edges, and serves the aggregation queries used for ranking.
//
// Section name filters are case-insensitive everywhere. Methods that write
// several rows do so in one transaction.
type EFVStorage interface {
	// InsertReports stores reports and their sections. Ids must be set.
	InsertReports(ctx context.Context, reports []common.Report) error
	// DeleteReportsByAgency removes every report of the agency together with
	// its sections, entities and edges.
	DeleteReportsByAgency(ctx context.Context, agency string) (int64, error)
	// ReplaceReportsByAgency deletes every report of the agency and inserts
	// reports in the same transaction. It returns the number deleted.
	ReplaceReportsByAgency(ctx context.Context, agency string, reports []common.Report) (int64, error)

	// Sections returns sections joined with their company. Nil names select all.
	Sections(ctx context.Context, names []string) ([]common.SectionRow, error)

	InsertEntities(ctx context.Context, entities []common.Entity) (common.Counts, error)
	// DeleteEntitiesBySectionNames removes entities of the given sections. Nil
	// names remove all entities, optionally limited to one report.
	DeleteEntitiesBySectionNames(ctx context.Context, names []string, reportID *int64) (common.Counts, error)
	// ReplaceEntities deletes the entities of the named sections, or all for
	// nil names, and inserts entities in the same transaction.
	ReplaceEntities(ctx context.Context, names []string, entities []common.Entity) (deleted, inserted common.Counts, err error)
	EntitiesBySections(ctx context.Context, sectionIDs []int64) ([]common.Entity, error)

	// ReplaceRelations deletes all edges of the sections and inserts edges in
	// the same transaction. It returns the number of inserted edges.
	ReplaceRelations(ctx context.Context, sectionIDs []int64, edges []common.Edge) (int, error)

	CompanySectionIDs(ctx context.Context, scope common.CompanyScope) ([]int64, error)
	GlobalSectionIDs(ctx context.Context, names []string) ([]int64, error)
	// AggregateScores sums edge scores per entity of kind over the sections.
	AggregateScores(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error)
	// CanonicalMap returns the canonical identity of each mapped raw id. The
	// boolean is false when the optional mapping tables do not exist.
	CanonicalMap(ctx context.Context, kind common.Kind, rawIDs []int64) (map[int64]common.Canonical, bool, error)

	// RepairReferences reconciles entity report and section ids with the
	// section table and reports mismatch counts per kind.
	RepairReferences(ctx context.Context) ([]common.RepairStats, error)

	Close() error
}
