package extract

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// DedupPolicy controls whether identical items from different passages are
// merged.
type DedupPolicy string

const (
	DedupNone         DedupPolicy = "none"
	DedupEvidence     DedupPolicy = "evidence"
	DedupNameEvidence DedupPolicy = "name+evidence"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch p := DedupPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DedupNone, DedupEvidence, DedupNameEvidence:
		return p, nil
	case "":
		return DedupNone, nil
	}
	return "", fmt.Errorf("unknown dedup policy %q", s)
}

// key returns the identity of e under the policy. Items without evidence
// are never merged.
func (p DedupPolicy) key(e common.Entity) (string, bool) {
	ev := strings.TrimSpace(e.Evidence)
	if ev == "" {
		return "", false
	}
	switch p {
	case DedupEvidence:
		return ev, true
	case DedupNameEvidence:
		return common.NormalizeName(e.Name) + "\x00" + ev, true
	}
	return "", false
}

// Merge concatenates results in order, dropping later duplicates per kind as
// the policy defines them.
func Merge(p DedupPolicy, results ...Result) Result {
	var out Result
	seen := [3]map[string]struct{}{{}, {}, {}}
	add := func(dst []common.Entity, items []common.Entity) []common.Entity {
		for _, it := range items {
			if k, ok := p.key(it); ok {
				if _, dup := seen[it.Kind][k]; dup {
					continue
				}
				seen[it.Kind][k] = struct{}{}
			}
			dst = append(dst, it)
		}
		return dst
	}
	for _, r := range results {
		out.Events = add(out.Events, r.Events)
		out.Factors = add(out.Factors, r.Factors)
		out.Variables = add(out.Variables, r.Variables)
	}
	return out
}
