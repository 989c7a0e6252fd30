package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

const insertEdgeSQL = `INSERT INTO event_relation (section_id, event_id, factor_id, variable_id, score)
VALUES (?, ?, ?, ?, ?)`

func (s *SQLiteStorage) ReplaceRelations(ctx context.Context, sectionIDs []int64, edges []common.Edge) (int, error) {
	if err := store.ValidateEdges(edges); err != nil {
		return 0, err
	}
	ids := store.DedupeInt64(sectionIDs)

	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := store.ChunkRange(len(ids), maxParams, func(start, end int) error {
			q, args, err := sqlx.In(`DELETE FROM event_relation WHERE section_id IN (?)`, ids[start:end])
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			deleted += n
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete relations: %w", err)
		}
		if len(edges) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, insertEdgeSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range edges {
			if _, err := stmt.ExecContext(ctx, e.SectionID, e.EventID, e.FactorID, e.VariableID, e.Score); err != nil {
				return fmt.Errorf("insert relation %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug("[Store][ReplaceRelations] replaced", "sections", len(ids), "deleted", deleted, "inserted", len(edges))
	return len(edges), nil
}

func (s *SQLiteStorage) AggregateScores(ctx context.Context, kind common.Kind, sectionIDs []int64) ([]common.ScoredEntity, error) {
	if !kind.Valid() {
		return nil, common.ErrUnknownKind
	}
	ids := store.DedupeInt64(sectionIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	var all []common.ScoredEntity
	err := store.ChunkRange(len(ids), maxParams, func(start, end int) error {
		q, args, err := sqlx.In(store.AggregateScoresSQL(kind, "r.section_id IN (?)"), ids[start:end])
		if err != nil {
			return err
		}
		var rows []common.ScoredEntity
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
			return err
		}
		all = append(all, rows...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s scores: %w", kind, err)
	}
	return store.MergeScores(all), nil
}

func (s *SQLiteStorage) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	return n > 0, err
}

func (s *SQLiteStorage) CanonicalMap(ctx context.Context, kind common.Kind, rawIDs []int64) (map[int64]common.Canonical, bool, error) {
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
	err := store.ChunkRange(len(ids), maxParams, func(start, end int) error {
		q, args, err := sqlx.In(store.CanonicalMapSQL(kind, "m.raw_id IN (?)"), ids[start:end])
		if err != nil {
			return err
		}
		var rows []store.CanonicalRow
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
			return err
		}
		for _, r := range rows {
			out[r.RawID] = common.Canonical{ID: r.CanonicalID, Name: r.CanonicalName}
		}
		return nil
	})
	if err != nil {
		return nil, true, fmt.Errorf("canonical map %s: %w", kind, err)
	}
	return out, true, nil
}

type txExecer struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (e txExecer) Exec(query string) (int64, error) {
	res, err := e.tx.ExecContext(e.ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e txExecer) Count(query string) (int64, error) {
	var n int64
	err := e.tx.GetContext(e.ctx, &n, query)
	return n, err
}

func (s *SQLiteStorage) RepairReferences(ctx context.Context) ([]common.RepairStats, error) {
	var stats []common.RepairStats
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		stats, err = store.Repair(txExecer{ctx: ctx, tx: tx})
		return err
	})
	return stats, err
}
