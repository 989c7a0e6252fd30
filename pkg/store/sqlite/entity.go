package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

func insertEntitySQL(kind common.Kind) string {
	cols := store.EntityColumns(kind)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", kind.Table(), strings.Join(cols, ", "), marks)
}

func (s *SQLiteStorage) InsertEntities(ctx context.Context, entities []common.Entity) (common.Counts, error) {
	var counts common.Counts
	if len(entities) == 0 {
		return counts, nil
	}
	if err := store.ValidateEntities(entities); err != nil {
		return counts, err
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		counts, err = insertEntities(ctx, tx, entities)
		return err
	})
	if err != nil {
		return common.Counts{}, err
	}
	return counts, nil
}

func insertEntities(ctx context.Context, tx *sqlx.Tx, entities []common.Entity) (common.Counts, error) {
	var counts common.Counts
	byKind := store.SplitByKind(entities)
	for _, kind := range common.Kinds {
		if len(byKind[kind]) == 0 {
			continue
		}
		stmt, err := tx.PreparexContext(ctx, insertEntitySQL(kind))
		if err != nil {
			return common.Counts{}, err
		}
		for _, e := range byKind[kind] {
			if _, err := stmt.ExecContext(ctx, store.NewEntityRow(e).Args(kind)...); err != nil {
				stmt.Close()
				return common.Counts{}, fmt.Errorf("insert %s %d: %w", kind, e.ID, err)
			}
		}
		stmt.Close()
		counts.Add(kind, int64(len(byKind[kind])))
	}
	return counts, nil
}

// deleteEntities removes entities of the named sections, or all of them for
// nil names, optionally limited to one report. norm must be normalized.
func deleteEntities(ctx context.Context, tx *sqlx.Tx, norm []string, reportID *int64) (common.Counts, error) {
	var counts common.Counts
	for _, kind := range common.Kinds {
		var conds []string
		var args []any
		if norm != nil {
			conds = append(conds, "LOWER(section_name) IN (?)")
			args = append(args, norm)
		}
		if reportID != nil {
			conds = append(conds, "report_id = ?")
			args = append(args, *reportID)
		}
		q := "DELETE FROM " + kind.Table()
		if len(conds) > 0 {
			q += " WHERE " + strings.Join(conds, " AND ")
		}
		if norm != nil {
			var err error
			if q, args, err = sqlx.In(q, args...); err != nil {
				return common.Counts{}, err
			}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return common.Counts{}, fmt.Errorf("delete %s: %w", kind, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return common.Counts{}, err
		}
		counts.Add(kind, n)
	}
	return counts, nil
}

// normalizeFilter returns the section filter for names. skip is true when
// names were given but none survive normalization.
func normalizeFilter(names []string) (norm []string, skip bool) {
	if names == nil {
		return nil, false
	}
	norm = common.NormalizeNames(names)
	return norm, len(norm) == 0
}

func (s *SQLiteStorage) DeleteEntitiesBySectionNames(ctx context.Context, names []string, reportID *int64) (common.Counts, error) {
	var counts common.Counts
	norm, skip := normalizeFilter(names)
	if skip {
		return counts, nil
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		counts, err = deleteEntities(ctx, tx, norm, reportID)
		return err
	})
	if err != nil {
		return common.Counts{}, err
	}
	logger.Debug("[Store][DeleteEntities] deleted",
		"events", counts.Events, "factors", counts.Factors, "variables", counts.Variables)
	return counts, nil
}

func (s *SQLiteStorage) ReplaceEntities(ctx context.Context, names []string, entities []common.Entity) (deleted, inserted common.Counts, err error) {
	if err := store.ValidateEntities(entities); err != nil {
		return deleted, inserted, err
	}
	norm, skip := normalizeFilter(names)

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		if !skip {
			if deleted, txErr = deleteEntities(ctx, tx, norm, nil); txErr != nil {
				return txErr
			}
		}
		inserted, txErr = insertEntities(ctx, tx, entities)
		return txErr
	})
	if err != nil {
		return common.Counts{}, common.Counts{}, err
	}
	logger.Debug("[Store][ReplaceEntities] replaced",
		"deleted", deleted.Total(), "inserted", inserted.Total())
	return deleted, inserted, nil
}

func (s *SQLiteStorage) EntitiesBySections(ctx context.Context, sectionIDs []int64) ([]common.Entity, error) {
	ids := store.DedupeInt64(sectionIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	var out []common.Entity
	for _, kind := range common.Kinds {
		cols := strings.Join(store.EntityColumns(kind), ", ")
		err := store.ChunkRange(len(ids), maxParams, func(start, end int) error {
			q, args, err := sqlx.In(
				fmt.Sprintf("SELECT %s FROM %s WHERE section_id IN (?) ORDER BY id", cols, kind.Table()),
				ids[start:end],
			)
			if err != nil {
				return err
			}
			var rows []store.EntityRow
			if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
				return err
			}
			for _, r := range rows {
				out = append(out, r.Entity(kind))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", kind, err)
		}
	}
	return out, nil
}
