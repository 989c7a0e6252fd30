package store

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeInt64(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SplitByKind groups entities by kind in storage order.
func SplitByKind(entities []common.Entity) [3][]common.Entity {
	var out [3][]common.Entity
	for _, e := range entities {
		if e.Kind.Valid() {
			out[e.Kind] = append(out[e.Kind], e)
		}
	}
	return out
}

// ValidateEntities checks the fields the entity tables require.
func ValidateEntities(entities []common.Entity) error {
	for i, e := range entities {
		if !e.Kind.Valid() {
			return fmt.Errorf("entity %d: %w", i, common.ErrUnknownKind)
		}
		if e.ID == 0 {
			return fmt.Errorf("entity %d: missing id", i)
		}
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entity %d: missing name", i)
		}
		if e.Kind == common.KindEvent && !e.EventType.Valid() {
			return fmt.Errorf("entity %d: %w: %q", i, common.ErrInvalidEventType, e.EventType)
		}
	}
	return nil
}

// ValidateEdges checks that every edge links exactly two entities.
func ValidateEdges(edges []common.Edge) error {
	for i, e := range edges {
		set := 0
		for _, p := range []*int64{e.EventID, e.FactorID, e.VariableID} {
			if p != nil {
				set++
			}
		}
		if set != 2 {
			return fmt.Errorf("edge %d links %d entities, want 2", i, set)
		}
	}
	return nil
}
