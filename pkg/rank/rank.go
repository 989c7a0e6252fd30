// Package rank aggregates relation scores into company and global rankings,
// folds raw entities into canonical nodes and blends both scopes.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// Node is a ranked entity, either a raw entity or a canonical group.
type Node struct {
	ID      int64
	Name    string
	Section string
	Score   float64
	Freq    int
}

// Key identifies a node for deduplication and blending.
type Key struct {
	ID   int64
	Name string
}

func (n Node) Key() Key {
	return Key{ID: n.ID, Name: strings.ToLower(strings.TrimSpace(n.Name))}
}

// Weights tune the hybrid blend. They are not required to sum to one.
type Weights struct {
	Company   float64 `json:"weight_company" toml:"weight_company" validate:"gte=0"`
	Global    float64 `json:"weight_global" toml:"weight_global" validate:"gte=0"`
	Frequency float64 `json:"weight_frequency" toml:"weight_frequency" validate:"gte=0"`
	BothBonus float64 `json:"both_bonus" toml:"both_bonus" validate:"gte=0"`
}

func DefaultWeights() Weights {
	return Weights{Company: 0.55, Global: 0.45, Frequency: 0.05, BothBonus: 0.05}
}

// Raw turns aggregated rows into nodes without canonical folding.
func Raw(rows []common.ScoredEntity) []Node {
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		out = append(out, Node{ID: r.ID, Name: r.Name, Section: r.SectionName, Score: Finite(r.Score), Freq: 1})
	}
	return out
}

// Canonicalize folds rows that map to the same canonical id into one node,
// summing scores and counting members as Freq. Rows without a mapping stay as
// they are. Without mapping tables every row is its own node.
func Canonicalize(rows []common.ScoredEntity, mapping map[int64]common.Canonical, hasTables bool) []Node {
	if !hasTables {
		return Raw(rows)
	}

	type groupKey struct {
		canonical bool
		id        int64
	}
	index := make(map[groupKey]int, len(rows))
	best := make(map[groupKey]float64, len(rows))
	var out []Node

	for _, r := range rows {
		k := groupKey{id: r.ID}
		name := r.Name
		if c, ok := mapping[r.ID]; ok {
			k = groupKey{canonical: true, id: c.ID}
			name = c.Name
		}
		score := Finite(r.Score)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			best[k] = score
			out = append(out, Node{ID: k.id, Name: name, Section: r.SectionName, Score: score, Freq: 1})
			continue
		}
		n := &out[i]
		n.Score += score
		n.Freq++
		if score > best[k] {
			best[k] = score
			n.Section = r.SectionName
		}
	}
	return out
}

// Dedupe keeps one node per (id, lowercased name), the one with the higher
// score. The first occurrence's position is kept.
func Dedupe(nodes []Node) []Node {
	index := make(map[Key]int, len(nodes))
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		k := n.Key()
		if i, ok := index[k]; ok {
			if n.Score > out[i].Score {
				out[i] = n
			}
			continue
		}
		index[k] = len(out)
		out = append(out, n)
	}
	return out
}

// SortNodes orders by score, then frequency, both descending, then by name
// and id so equal nodes have a stable order.
func SortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Freq != b.Freq {
			return a.Freq > b.Freq
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// NormalizedRanks maps each node of a sorted list to (N-i)/N, so the first
// node gets 1 and the last 1/N.
func NormalizedRanks(sorted []Node) map[Key]float64 {
	n := len(sorted)
	out := make(map[Key]float64, n)
	for i, node := range sorted {
		out[node.Key()] = Finite(float64(n-i) / float64(n))
	}
	return out
}

// FrequencyNorms divides every frequency by the largest one.
func FrequencyNorms(nodes []Node) map[Key]float64 {
	maxFreq := 0
	for _, n := range nodes {
		maxFreq = max(maxFreq, n.Freq)
	}
	out := make(map[Key]float64, len(nodes))
	for _, n := range nodes {
		if maxFreq == 0 {
			out[n.Key()] = 0
			continue
		}
		out[n.Key()] = Finite(float64(n.Freq) / float64(maxFreq))
	}
	return out
}

// Blend joins the company and global canonical lists and scores every key as
//
//	w.Company*rankCompany + w.Global*rankGlobal + w.Frequency*max(freqCompany, freqGlobal)
//
// plus w.BothBonus when the key is in both lists. A missing scope contributes
// zero. Both inputs must already be deduplicated and sorted.
func Blend(company, global []Node, w Weights) []Node {
	rc, rg := NormalizedRanks(company), NormalizedRanks(global)
	fc, fg := FrequencyNorms(company), FrequencyNorms(global)

	merged := make(map[Key]*Node, len(company)+len(global))
	order := make([]Key, 0, len(company)+len(global))
	for _, list := range [2][]Node{company, global} {
		for _, n := range list {
			k := n.Key()
			if m, ok := merged[k]; ok {
				m.Freq = max(m.Freq, n.Freq)
				continue
			}
			cp := n
			merged[k] = &cp
			order = append(order, k)
		}
	}

	out := make([]Node, 0, len(order))
	for _, k := range order {
		n := *merged[k]
		rC, inC := rc[k]
		rG, inG := rg[k]
		score := w.Company*rC + w.Global*rG + w.Frequency*math.Max(fc[k], fg[k])
		if inC && inG {
			score += w.BothBonus
		}
		n.Score = Finite(score)
		out = append(out, n)
	}
	SortNodes(out)
	return out
}

// Top returns at most k nodes. k <= 0 returns none.
func Top(nodes []Node, k int) []Node {
	if k <= 0 {
		return nil
	}
	if len(nodes) > k {
		return nodes[:k]
	}
	return nodes
}

// Round3 rounds to three decimals.
func Round3(x float64) float64 {
	return Finite(math.Round(Finite(x)*1000) / 1000)
}

// Finite maps NaN and infinities to zero.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
