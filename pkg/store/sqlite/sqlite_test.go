package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reports := []common.Report{
		{
			ID: 1, RatingCompany: "Moody's", CompanyName: "Acme", Date: "2023-05-01", Year: 2023, Headings: "[]",
			Sections: []common.Section{
				{ID: 11, SectionName: "Liquidity", Contents: "Cash rose. Debt fell."},
				{ID: 12, SectionName: "Outlook", Contents: "The outlook is stable."},
			},
		},
		{
			ID: 2, RatingCompany: "S&P", CompanyName: "Acme", Date: "2024-02-01", Year: 2024, Headings: "[]",
			Sections: []common.Section{{ID: 21, SectionName: "Liquidity", Contents: "Cash fell."}},
		},
		{
			ID: 3, RatingCompany: "S&P", CompanyName: "Beta", Date: "2024-03-01", Year: 2024, Headings: "[]",
			Sections: []common.Section{{ID: 31, SectionName: "liquidity", Contents: "Liquidity is adequate."}},
		},
	}
	require.NoError(t, s.InsertReports(context.Background(), reports))
	return s
}

func sectionIDs(rows []common.SectionRow) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.SectionID)
	}
	return out
}

func testEntities() []common.Entity {
	return []common.Entity{
		{Kind: common.KindEvent, ID: 100, ReportID: 1, SectionID: common.Ptr[int64](11), SectionName: "Liquidity",
			Name: "debt repayment", Evidence: "Debt fell.", EventType: common.EventFinancing},
		{Kind: common.KindFactor, ID: 200, ReportID: 1, SectionID: common.Ptr[int64](11), SectionName: "Liquidity",
			Name: "liquidity", Evidence: "Cash rose."},
		{Kind: common.KindVariable, ID: 300, ReportID: 1, SectionID: common.Ptr[int64](11), SectionName: "Liquidity",
			Name: "cash", Value: "rose", Evidence: "Cash rose.", Period: common.Ptr("2023")},
		{Kind: common.KindVariable, ID: 301, ReportID: 1, SectionID: common.Ptr[int64](12), SectionName: "Outlook",
			Name: "outlook", Value: "stable", Unit: common.Ptr("text"), Evidence: "The outlook is stable."},
	}
}

func edge(t *testing.T, section int64, a, b common.Ref, score float64) common.Edge {
	t.Helper()
	e, err := common.NewEdge(section, a, b, score)
	require.NoError(t, err)
	return e
}

func TestSections(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	all, err := s.Sections(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12, 21, 31}, sectionIDs(all))
	assert.Equal(t, "Acme", all[0].CompanyName)

	liq, err := s.Sections(ctx, []string{"LIQUIDITY "})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 21, 31}, sectionIDs(liq))

	none, err := s.Sections(ctx, []string{" "})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCompanySectionIDs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ids, err := s.CompanySectionIDs(ctx, common.CompanyScope{CompanyName: "acme", SectionNames: []string{"Liquidity"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 21}, ids)

	ids, err = s.CompanySectionIDs(ctx, common.CompanyScope{CompanyName: "Acme", SectionNames: []string{"liquidity"}, ReportLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{21}, ids)

	ids, err = s.CompanySectionIDs(ctx, common.CompanyScope{CompanyName: "Acme", SectionNames: []string{"liquidity"}, YearMax: common.Ptr(2023)})
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, ids)

	ids, err = s.CompanySectionIDs(ctx, common.CompanyScope{CompanyName: "Gamma", SectionNames: []string{"liquidity"}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.CompanySectionIDs(ctx, common.CompanyScope{CompanyName: " ", SectionNames: []string{"liquidity"}})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGlobalSectionIDs(t *testing.T) {
	s := newTestStorage(t)

	ids, err := s.GlobalSectionIDs(context.Background(), []string{"Liquidity", "liquidity"})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 21, 31}, ids)
}

func TestInsertEntities(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	counts, err := s.InsertEntities(ctx, testEntities())
	require.NoError(t, err)
	assert.Equal(t, common.Counts{Events: 1, Factors: 1, Variables: 2}, counts)

	got, err := s.EntitiesBySections(ctx, []int64{11, 11})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, common.KindEvent, got[0].Kind)
	assert.Equal(t, common.EventFinancing, got[0].EventType)
	assert.Equal(t, "rose", got[2].Value)
	require.NotNil(t, got[2].Period)
	assert.Equal(t, "2023", *got[2].Period)

	got, err = s.EntitiesBySections(ctx, []int64{12})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Unit)
	assert.Equal(t, "text", *got[0].Unit)
}

func TestInsertEntitiesRejectsInvalid(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	bad := []common.Entity{{Kind: common.KindEvent, ID: 1, ReportID: 1, Name: "x", EventType: "Weather"}}
	_, err := s.InsertEntities(ctx, bad)
	assert.ErrorIs(t, err, common.ErrInvalidEventType)

	_, err = s.InsertEntities(ctx, []common.Entity{{Kind: common.KindFactor, ID: 2, ReportID: 1}})
	assert.Error(t, err)

	got, err := s.EntitiesBySections(ctx, []int64{11, 12})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteEntitiesBySectionNames(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.InsertEntities(ctx, testEntities())
	require.NoError(t, err)

	counts, err := s.DeleteEntitiesBySectionNames(ctx, []string{}, nil)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	counts, err = s.DeleteEntitiesBySectionNames(ctx, []string{"OUTLOOK"}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Counts{Variables: 1}, counts)

	counts, err = s.DeleteEntitiesBySectionNames(ctx, nil, common.Ptr[int64](2))
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	counts, err = s.DeleteEntitiesBySectionNames(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Counts{Events: 1, Factors: 1, Variables: 1}, counts)
}

func entityIDs(ents []common.Entity) []int64 {
	out := make([]int64, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.ID)
	}
	return out
}

func TestReplaceEntities(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.InsertEntities(ctx, testEntities())
	require.NoError(t, err)

	leverage := common.Entity{Kind: common.KindFactor, ID: 400, ReportID: 1, SectionID: common.Ptr[int64](11),
		SectionName: "Liquidity", Name: "leverage", Evidence: "Debt fell."}
	deleted, inserted, err := s.ReplaceEntities(ctx, []string{"LIQUIDITY"}, []common.Entity{leverage})
	require.NoError(t, err)
	assert.Equal(t, common.Counts{Events: 1, Factors: 1, Variables: 1}, deleted)
	assert.Equal(t, common.Counts{Factors: 1}, inserted)

	got, err := s.EntitiesBySections(ctx, []int64{11, 12})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{400, 301}, entityIDs(got))
}

func TestReplaceEntitiesRollsBack(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.InsertEntities(ctx, testEntities())
	require.NoError(t, err)

	dup := common.Entity{Kind: common.KindFactor, ID: 500, ReportID: 1, SectionID: common.Ptr[int64](11),
		SectionName: "Liquidity", Name: "leverage"}
	_, _, err = s.ReplaceEntities(ctx, []string{"Liquidity"}, []common.Entity{dup, dup})
	require.Error(t, err)

	// the delete is undone with the failed insert
	got, err := s.EntitiesBySections(ctx, []int64{11, 12})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{100, 200, 300, 301}, entityIDs(got))

	_, _, err = s.ReplaceEntities(ctx, nil, []common.Entity{{Kind: common.KindFactor, Name: "no id"}})
	require.Error(t, err)
	got, err = s.EntitiesBySections(ctx, []int64{11, 12})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestReplaceReportsByAgency(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.ReplaceReportsByAgency(ctx, " ", nil)
	assert.ErrorIs(t, err, store.ErrEmptyAgency)

	fresh := common.Report{
		ID: 4, RatingCompany: "S&P", CompanyName: "Acme", Date: "2025-01-01", Year: 2025, Headings: "[]",
		Sections: []common.Section{{ID: 41, SectionName: "Liquidity", Contents: "Cash is ample."}},
	}
	n, err := s.ReplaceReportsByAgency(ctx, "S&P", []common.Report{fresh})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.Sections(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{11, 12, 41}, sectionIDs(rows))

	// report 1 belongs to another agency, so the insert fails and the
	// S&P reports stay as they were
	clash := common.Report{ID: 1, RatingCompany: "S&P", CompanyName: "Acme", Date: "2025-02-01", Year: 2025, Headings: "[]"}
	_, err = s.ReplaceReportsByAgency(ctx, "S&P", []common.Report{clash})
	require.Error(t, err)

	rows, err = s.Sections(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{11, 12, 41}, sectionIDs(rows))
}

func TestReplaceRelationsAndAggregate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ents := testEntities()
	_, err := s.InsertEntities(ctx, ents)
	require.NoError(t, err)

	ev, fa, va := ents[0].Ref(), ents[1].Ref(), ents[2].Ref()
	n, err := s.ReplaceRelations(ctx, []int64{11}, []common.Edge{
		edge(t, 11, ev, fa, 1.0),
		edge(t, 11, ev, va, 0.5),
		edge(t, 11, fa, va, 1.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	vars, err := s.AggregateScores(ctx, common.KindVariable, []int64{11, 21})
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, int64(300), vars[0].ID)
	assert.Equal(t, "cash", vars[0].Name)
	assert.Equal(t, "Liquidity", vars[0].SectionName)
	assert.InDelta(t, 1.5, vars[0].Score, 1e-9)

	factors, err := s.AggregateScores(ctx, common.KindFactor, []int64{11})
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.InDelta(t, 2.0, factors[0].Score, 1e-9)

	// replacing drops the previous edges of the section
	n, err = s.ReplaceRelations(ctx, []int64{11}, []common.Edge{edge(t, 11, ev, fa, 0.5)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	factors, err = s.AggregateScores(ctx, common.KindFactor, []int64{11})
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.InDelta(t, 0.5, factors[0].Score, 1e-9)

	vars, err = s.AggregateScores(ctx, common.KindVariable, []int64{11})
	require.NoError(t, err)
	assert.Empty(t, vars)

	empty, err := s.AggregateScores(ctx, common.KindEvent, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplaceRelationsRejectsHalfEdge(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.ReplaceRelations(context.Background(), []int64{11}, []common.Edge{
		{SectionID: 11, EventID: common.Ptr[int64](100), Score: 1},
	})
	assert.Error(t, err)
}

func TestDeleteReportsByAgency(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.DeleteReportsByAgency(ctx, "  ")
	assert.ErrorIs(t, err, store.ErrEmptyAgency)

	n, err := s.DeleteReportsByAgency(ctx, " S&P ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.Sections(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, sectionIDs(rows))
}

func TestCanonicalMap(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	m, ok, err := s.CanonicalMap(ctx, common.KindVariable, []int64{300})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)

	_, err = s.DB().ExecContext(ctx, `
CREATE TABLE canonical_variable (id INTEGER PRIMARY KEY, canonical_name TEXT NOT NULL);
CREATE TABLE variable_to_canonical_map (raw_id INTEGER PRIMARY KEY, canonical_id INTEGER NOT NULL);
INSERT INTO canonical_variable VALUES (9, 'cash balance');
INSERT INTO variable_to_canonical_map VALUES (300, 9), (301, 9);`)
	require.NoError(t, err)

	m, ok, err = s.CanonicalMap(ctx, common.KindVariable, []int64{300, 302})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[int64]common.Canonical{300: {ID: 9, Name: "cash balance"}}, m)

	// a mapping table without its canonical table is treated as absent
	_, err = s.DB().ExecContext(ctx, `CREATE TABLE factor_to_canonical_map (raw_id INTEGER, canonical_id INTEGER)`)
	require.NoError(t, err)
	_, ok, err = s.CanonicalMap(ctx, common.KindFactor, []int64{200})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepairReferences(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.InsertEntities(ctx, []common.Entity{
		{Kind: common.KindVariable, ID: 400, ReportID: 2, SectionID: common.Ptr[int64](11), SectionName: "Liquidity", Name: "drifted"},
		{Kind: common.KindVariable, ID: 401, ReportID: 1, SectionName: "outlook", Name: "unplaced"},
		{Kind: common.KindFactor, ID: 402, ReportID: 1, SectionID: common.Ptr[int64](12), SectionName: "Outlook", Name: "fine"},
	})
	require.NoError(t, err)

	stats, err := s.RepairReferences(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, common.RepairStats{Kind: common.KindEvent}, stats[0])
	assert.Equal(t, common.RepairStats{Kind: common.KindFactor}, stats[1])
	assert.Equal(t, common.RepairStats{
		Kind: common.KindVariable, Before: 1, ReportsBackfill: 1, SectionsResolved: 1, After: 0,
	}, stats[2])

	got, err := s.EntitiesBySections(ctx, []int64{11, 12})
	require.NoError(t, err)
	byID := make(map[int64]common.Entity, len(got))
	for _, e := range got {
		byID[e.ID] = e
	}
	assert.Equal(t, int64(1), byID[400].ReportID)
	require.Contains(t, byID, int64(401))
	assert.Equal(t, int64(12), *byID[401].SectionID)
}
