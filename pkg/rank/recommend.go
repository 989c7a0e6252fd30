package rank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

var ErrCompanyRequired = errors.New("company name is required")

// Source is the read side of the store the recommender needs.
type Source interface {
	CompanySectionIDs(ctx context.Context, scope common.CompanyScope) ([]int64, error)
	GlobalSectionIDs(ctx context.Context, sectionNames []string) ([]int64, error)
	AggregateScores(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error)
	CanonicalMap(ctx context.Context, kind common.Kind, rawIDs []int64) (map[int64]common.Canonical, bool, error)
}

// Options are the defaults applied to requests that leave a field unset.
type Options struct {
	Weights   Weights
	KVariable int
	KFactor   int
	KEvent    int
	UseGlobal bool
}

func DefaultOptions() Options {
	return Options{
		Weights:   DefaultWeights(),
		KVariable: 10,
		KFactor:   10,
		KEvent:    10,
		UseGlobal: true,
	}
}

// Request is one recommendation query. Nil or zero fields fall back to the
// recommender's Options.
type Request struct {
	Company     string   `json:"company" validate:"required"`
	Sections    []string `json:"sections" validate:"required,min=1,dive,required"`
	KVariable   int      `json:"k_var,omitempty" validate:"gte=0"`
	KFactor     int      `json:"k_factor,omitempty" validate:"gte=0"`
	KEvent      int      `json:"k_event,omitempty" validate:"gte=0"`
	UseGlobal   *bool    `json:"use_global,omitempty"`
	YearMin     *int     `json:"year_min,omitempty"`
	YearMax     *int     `json:"year_max,omitempty"`
	ReportLimit int      `json:"report_limit,omitempty" validate:"gte=0"`
	Weights     *Weights `json:"weights,omitempty"`
}

// Item is one recommended entity. Evidence carries the display name.
type Item struct {
	ID       int64   `json:"id"`
	Section  string  `json:"section"`
	Evidence string  `json:"evidence"`
	Score    float64 `json:"score"`
	Freq     int     `json:"freq"`
}

// Query echoes the resolved request.
type Query struct {
	Company     string   `json:"company"`
	Sections    []string `json:"sections"`
	YearMin     *int     `json:"year_min"`
	YearMax     *int     `json:"year_max"`
	ReportLimit int      `json:"report_limit"`
	KVariable   int      `json:"k_var"`
	KFactor     int      `json:"k_factor"`
	KEvent      int      `json:"k_event"`
	UseGlobal   bool     `json:"use_global"`
	Weights     Weights  `json:"weights"`
}

type Response struct {
	Query     Query  `json:"query"`
	Variables []Item `json:"variables"`
	Factors   []Item `json:"factors"`
	Events    []Item `json:"events"`
}

// Recommender serves ranked entities per kind for a company and its sections.
// It only reads from the source and keeps no state between calls.
type Recommender struct {
	src  Source
	opts Options
}

func NewRecommender(src Source, opts Options) *Recommender {
	return &Recommender{src: src, opts: opts}
}

func (r *Recommender) resolve(req Request) Query {
	q := Query{
		Company:     strings.TrimSpace(req.Company),
		Sections:    common.NormalizeNames(req.Sections),
		YearMin:     req.YearMin,
		YearMax:     req.YearMax,
		ReportLimit: req.ReportLimit,
		KVariable:   r.opts.KVariable,
		KFactor:     r.opts.KFactor,
		KEvent:      r.opts.KEvent,
		UseGlobal:   r.opts.UseGlobal,
		Weights:     r.opts.Weights,
	}
	if req.KVariable > 0 {
		q.KVariable = req.KVariable
	}
	if req.KFactor > 0 {
		q.KFactor = req.KFactor
	}
	if req.KEvent > 0 {
		q.KEvent = req.KEvent
	}
	if req.UseGlobal != nil {
		q.UseGlobal = *req.UseGlobal
	}
	if req.Weights != nil {
		q.Weights = *req.Weights
	}
	return q
}

func (q Query) k(kind common.Kind) int {
	switch kind {
	case common.KindEvent:
		return q.KEvent
	case common.KindFactor:
		return q.KFactor
	default:
		return q.KVariable
	}
}

// Recommend ranks events, factors and variables. With UseGlobal unset it
// returns the company view: raw entities scored by summed edge weight. With
// UseGlobal set it returns the hybrid blend of the canonical company and
// global rankings. An empty scope yields empty lists.
func (r *Recommender) Recommend(ctx context.Context, req Request) (*Response, error) {
	q := r.resolve(req)
	if q.Company == "" {
		return nil, ErrCompanyRequired
	}
	resp := &Response{Query: q, Variables: []Item{}, Factors: []Item{}, Events: []Item{}}
	if len(q.Sections) == 0 {
		return resp, nil
	}

	companyIDs, err := r.src.CompanySectionIDs(ctx, common.CompanyScope{
		CompanyName:  q.Company,
		SectionNames: q.Sections,
		YearMin:      q.YearMin,
		YearMax:      q.YearMax,
		ReportLimit:  q.ReportLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve company scope: %w", err)
	}
	var globalIDs []int64
	if q.UseGlobal {
		globalIDs, err = r.src.GlobalSectionIDs(ctx, q.Sections)
		if err != nil {
			return nil, fmt.Errorf("resolve global scope: %w", err)
		}
	}
	logger.Debug("[Rank] resolved scopes", "company", q.Company, "company_sections", len(companyIDs), "global_sections", len(globalIDs))

	var results [3][]Item
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range common.Kinds {
		g.Go(func() error {
			var nodes []Node
			var err error
			if q.UseGlobal {
				nodes, err = r.hybrid(gctx, kind, companyIDs, globalIDs, q.Weights)
			} else {
				nodes, err = r.companyView(gctx, kind, companyIDs)
			}
			if err != nil {
				return fmt.Errorf("rank %s: %w", kind, err)
			}
			results[kind] = toItems(Top(nodes, q.k(kind)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp.Events = results[common.KindEvent]
	resp.Factors = results[common.KindFactor]
	resp.Variables = results[common.KindVariable]
	return resp, nil
}

func (r *Recommender) scores(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error) {
	if len(sectionIDs) == 0 {
		return nil, nil
	}
	return r.src.AggregateScores(ctx, kind, sectionIDs)
}

func (r *Recommender) companyView(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]Node, error) {
	rows, err := r.scores(ctx, kind, sectionIDs)
	if err != nil {
		return nil, err
	}
	nodes := Dedupe(Raw(rows))
	SortNodes(nodes)
	return nodes, nil
}

func (r *Recommender) hybrid(ctx context.Context, kind common.Kind, companyIDs, globalIDs []int64, w Weights) ([]Node, error) {
	compRows, err := r.scores(ctx, kind, companyIDs)
	if err != nil {
		return nil, err
	}
	globRows, err := r.scores(ctx, kind, globalIDs)
	if err != nil {
		return nil, err
	}

	rawIDs := make([]int64, 0, len(compRows)+len(globRows))
	for _, rows := range [2][]common.ScoredEntity{compRows, globRows} {
		for _, row := range rows {
			rawIDs = append(rawIDs, row.ID)
		}
	}
	var mapping map[int64]common.Canonical
	hasTables := false
	if len(rawIDs) > 0 {
		mapping, hasTables, err = r.src.CanonicalMap(ctx, kind, rawIDs)
		if err != nil {
			return nil, err
		}
	}
	if !hasTables {
		logger.Debug("[Rank] no canonical tables, using raw ids", "kind", kind.String())
	}

	company := Dedupe(Canonicalize(compRows, mapping, hasTables))
	global := Dedupe(Canonicalize(globRows, mapping, hasTables))
	SortNodes(company)
	SortNodes(global)
	return Blend(company, global, w), nil
}

func toItems(nodes []Node) []Item {
	out := make([]Item, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Item{
			ID:       n.ID,
			Section:  n.Section,
			Evidence: n.Name,
			Score:    Round3(n.Score),
			Freq:     n.Freq,
		})
	}
	return out
}
