package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

var edgeColumns = []string{"section_id", "event_id", "factor_id", "variable_id", "score"}

func (s *PGStorage) ReplaceRelations(ctx context.Context, sectionIDs []int64, edges []common.Edge) (int, error) {
	if err := store.ValidateEdges(edges); err != nil {
		return 0, err
	}
	ids := store.DedupeInt64(sectionIDs)

	var deleted, inserted int64
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		if len(ids) > 0 {
			tag, err := tx.Exec(ctx, `DELETE FROM event_relation WHERE section_id = ANY($1)`, ids)
			if err != nil {
				return fmt.Errorf("delete relations: %w", err)
			}
			deleted = tag.RowsAffected()
		}
		if len(edges) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx,
			pgxv5.Identifier{"event_relation"},
			edgeColumns,
			pgxv5.CopyFromSlice(len(edges), func(i int) ([]any, error) {
				e := edges[i]
				return []any{e.SectionID, e.EventID, e.FactorID, e.VariableID, e.Score}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy relations: %w", err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug("[Store][ReplaceRelations] replaced", "sections", len(ids), "deleted", deleted, "inserted", inserted)
	return int(inserted), nil
}

func (s *PGStorage) AggregateScores(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error) {
	if !kind.Valid() {
		return nil, common.ErrUnknownKind
	}
	ids := store.DedupeInt64(sectionIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, store.AggregateScoresSQL(kind, "r.section_id = ANY($1)"), ids)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s scores: %w", kind, err)
	}
	defer rows.Close()

	var out []common.ScoredEntity
	for rows.Next() {
		var r common.ScoredEntity
		if err := rows.Scan(&r.ID, &r.Name, &r.SectionName, &r.Score); err != nil {
			return nil, fmt.Errorf("scan %s score: %w", kind, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStorage) tableExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.conn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&ok)
	return ok, err
}

func (s *PGStorage) CanonicalMap(ctx context.Context, kind common.Kind, rawIDs []int64) (map[int64]common.Canonical, bool, error) {
	if !kind.Valid() {
		return nil, false, common.ErrUnknownKind
	}
	for _, t := range []string{kind.MapTable(), kind.CanonicalTable()} {
		ok, err := s.tableExists(ctx, t)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}

	out := make(map[int64]common.Canonical)
	ids := store.DedupeInt64(rawIDs)
	if len(ids) == 0 {
		return out, true, nil
	}
	rows, err := s.conn.Query(ctx, store.CanonicalMapSQL(kind, "m.raw_id = ANY($1)"), ids)
	if err != nil {
		return nil, true, fmt.Errorf("canonical map %s: %w", kind, err)
	}
	recs, err := pgxv5.CollectRows(rows, pgxv5.RowToStructByName[store.CanonicalRow])
	if err != nil {
		return nil, true, fmt.Errorf("scan canonical map %s: %w", kind, err)
	}
	for _, r := range recs {
		out[r.RawID] = common.Canonical{ID: r.CanonicalID, Name: r.CanonicalName}
	}
	return out, true, nil
}

type txExecer struct {
	ctx context.Context
	tx  pgxv5.Tx
}

func (e txExecer) Exec(query string) (int64, error) {
	tag, err := e.tx.Exec(e.ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e txExecer) Count(query string) (int64, error) {
	var n int64
	err := e.tx.QueryRow(e.ctx, query).Scan(&n)
	return n, err
}

func (s *PGStorage) RepairReferences(ctx context.Context) ([]common.RepairStats, error) {
	var stats []common.RepairStats
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		var err error
		stats, err = store.Repair(txExecer{ctx: ctx, tx: tx})
		return err
	})
	return stats, err
}
