package rank

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	company    []int64
	global     []int64
	scores     map[common.Kind]map[int64][]common.ScoredEntity
	canonical  map[common.Kind]map[int64]common.Canonical
	scopes     []common.CompanyScope
	globalErr  error
	globalHits int
}

func (f *fakeSource) CompanySectionIDs(_ context.Context, scope common.CompanyScope) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
	return f.company, nil
}

func (f *fakeSource) GlobalSectionIDs(_ context.Context, _ []string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalHits++
	return f.global, f.globalErr
}

func (f *fakeSource) AggregateScores(_ context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error) {
	var out []common.ScoredEntity
	for _, id := range sectionIDs {
		out = append(out, f.scores[kind][id]...)
	}
	return out, nil
}

func (f *fakeSource) CanonicalMap(_ context.Context, kind common.Kind, _ []int64) (map[int64]common.Canonical, bool, error) {
	m, ok := f.canonical[kind]
	return m, ok, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		company: []int64{10},
		global:  []int64{10, 20},
		scores: map[common.Kind]map[int64][]common.ScoredEntity{
			common.KindVariable: {
				10: {
					{ID: 1, Name: "cash", SectionName: "liquidity", Score: 1.5},
					{ID: 2, Name: "cash and equivalents", SectionName: "liquidity", Score: 0.5},
					{ID: 3, Name: "capex", SectionName: "liquidity", Score: 1.0},
				},
				20: {
					{ID: 4, Name: "Cash", SectionName: "liquidity", Score: 4.0},
					{ID: 5, Name: "fx reserves", SectionName: "liquidity", Score: 0.5},
				},
			},
			common.KindFactor: {
				10: {{ID: 7, Name: "strong liquidity", SectionName: "liquidity", Score: 2.0}},
			},
		},
		canonical: map[common.Kind]map[int64]common.Canonical{
			common.KindVariable: {
				1: {ID: 100, Name: "cash balance"},
				2: {ID: 100, Name: "cash balance"},
				4: {ID: 100, Name: "cash balance"},
			},
		},
	}
}

func TestRecommendCompanyView(t *testing.T) {
	src := newFakeSource()
	r := NewRecommender(src, DefaultOptions())
	useGlobal := false
	year := 2024

	resp, err := r.Recommend(context.Background(), Request{
		Company:   " Acme Corp ",
		Sections:  []string{"Liquidity", "liquidity "},
		UseGlobal: &useGlobal,
		YearMin:   &year,
		KVariable: 2,
	})
	require.NoError(t, err)

	require.Len(t, resp.Variables, 2)
	assert.Equal(t, Item{ID: 1, Section: "liquidity", Evidence: "cash", Score: 1.5, Freq: 1}, resp.Variables[0])
	assert.Equal(t, int64(3), resp.Variables[1].ID)
	require.Len(t, resp.Factors, 1)
	assert.Empty(t, resp.Events)

	assert.Equal(t, 0, src.globalHits)
	require.Len(t, src.scopes, 1)
	assert.Equal(t, "Acme Corp", src.scopes[0].CompanyName)
	assert.Equal(t, []string{"liquidity"}, src.scopes[0].SectionNames)
	assert.Equal(t, &year, src.scopes[0].YearMin)
	assert.Equal(t, []string{"liquidity"}, resp.Query.Sections)
}

func TestRecommendCompanyViewIgnoresWeights(t *testing.T) {
	useGlobal := false
	base := Request{Company: "Acme", Sections: []string{"liquidity"}, UseGlobal: &useGlobal}

	first, err := NewRecommender(newFakeSource(), DefaultOptions()).Recommend(context.Background(), base)
	require.NoError(t, err)

	tweaked := base
	tweaked.Weights = &Weights{Company: 9, Global: 3, Frequency: 7, BothBonus: 1}
	second, err := NewRecommender(newFakeSource(), DefaultOptions()).Recommend(context.Background(), tweaked)
	require.NoError(t, err)

	assert.Equal(t, first.Variables, second.Variables)
	assert.Equal(t, first.Factors, second.Factors)
}

func TestRecommendHybrid(t *testing.T) {
	src := newFakeSource()
	r := NewRecommender(src, DefaultOptions())

	resp, err := r.Recommend(context.Background(), Request{Company: "Acme", Sections: []string{"liquidity"}})
	require.NoError(t, err)
	assert.True(t, resp.Query.UseGlobal)
	assert.Equal(t, 1, src.globalHits)

	// company canonical: cash balance (2.0, freq 2), capex (1.0)
	// global canonical:  cash balance (6.0, freq 3), capex (1.0), fx reserves (0.5)
	require.Len(t, resp.Variables, 3)
	top := resp.Variables[0]
	assert.Equal(t, int64(100), top.ID)
	assert.Equal(t, "cash balance", top.Evidence)
	assert.Equal(t, 3, top.Freq)
	assert.Equal(t, 1.1, top.Score)

	// capex: 0.55*0.5 + 0.45*(2/3) + 0.05*max(0.5, 1/3) + 0.05
	assert.Equal(t, int64(3), resp.Variables[1].ID)
	assert.Equal(t, 0.65, resp.Variables[1].Score)

	// fx reserves: 0.45*(1/3) + 0.05*(1/3)
	assert.Equal(t, int64(5), resp.Variables[2].ID)
	assert.Equal(t, 0.167, resp.Variables[2].Score)

	// factors have no canonical tables and fall back to raw ids
	require.Len(t, resp.Factors, 1)
	assert.Equal(t, int64(7), resp.Factors[0].ID)
	assert.Equal(t, 1.1, resp.Factors[0].Score)
}

func TestRecommendEmptyScope(t *testing.T) {
	src := newFakeSource()
	src.company = nil
	src.global = nil
	r := NewRecommender(src, DefaultOptions())

	resp, err := r.Recommend(context.Background(), Request{Company: "Nobody", Sections: []string{"liquidity"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Variables)
	assert.Empty(t, resp.Factors)
	assert.Empty(t, resp.Events)
	assert.NotNil(t, resp.Events)
}

func TestRecommendErrors(t *testing.T) {
	_, err := NewRecommender(newFakeSource(), DefaultOptions()).Recommend(context.Background(), Request{Sections: []string{"x"}})
	assert.ErrorIs(t, err, ErrCompanyRequired)

	src := newFakeSource()
	boom := errors.New("boom")
	src.globalErr = boom
	_, err = NewRecommender(src, DefaultOptions()).Recommend(context.Background(), Request{Company: "Acme", Sections: []string{"liquidity"}})
	assert.ErrorIs(t, err, boom)
}
