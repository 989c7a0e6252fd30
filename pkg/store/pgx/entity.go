package pgx

import (
	"context"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

func (s *PGStorage) InsertEntities(ctx context.Context, entities []common.Entity) (common.Counts, error) {
	var counts common.Counts
	if len(entities) == 0 {
		return counts, nil
	}
	if err := store.ValidateEntities(entities); err != nil {
		return counts, err
	}

	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		var err error
		counts, err = copyEntities(ctx, tx, entities)
		return err
	})
	if err != nil {
		return common.Counts{}, err
	}
	return counts, nil
}

func copyEntities(ctx context.Context, tx pgxv5.Tx, entities []common.Entity) (common.Counts, error) {
	var counts common.Counts
	byKind := store.SplitByKind(entities)
	for _, kind := range common.Kinds {
		ents := byKind[kind]
		if len(ents) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx,
			pgxv5.Identifier{kind.Table()},
			store.EntityColumns(kind),
			pgxv5.CopyFromSlice(len(ents), func(i int) ([]any, error) {
				return store.NewEntityRow(ents[i]).Args(kind), nil
			}),
		)
		if err != nil {
			return common.Counts{}, fmt.Errorf("copy %s rows: %w", kind, err)
		}
		counts.Add(kind, n)
	}
	return counts, nil
}

// entityFilter builds the WHERE clause shared by entity deletes. skip is
// true when names were given but none survive normalization.
func entityFilter(names []string, reportID *int64) (where string, args []any, skip bool) {
	var norm []string
	if names != nil {
		norm = common.NormalizeNames(names)
		if len(norm) == 0 {
			return "", nil, true
		}
	}

	var conds []string
	if norm != nil {
		args = append(args, norm)
		conds = append(conds, fmt.Sprintf("LOWER(section_name) = ANY($%d)", len(args)))
	}
	if reportID != nil {
		args = append(args, *reportID)
		conds = append(conds, fmt.Sprintf("report_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return where, args, false
}

func deleteEntities(ctx context.Context, tx pgxv5.Tx, where string, args []any) (common.Counts, error) {
	var counts common.Counts
	for _, kind := range common.Kinds {
		tag, err := tx.Exec(ctx, "DELETE FROM "+kind.Table()+where, args...)
		if err != nil {
			return common.Counts{}, fmt.Errorf("delete %s: %w", kind, err)
		}
		counts.Add(kind, tag.RowsAffected())
	}
	return counts, nil
}

func (s *PGStorage) DeleteEntitiesBySectionNames(ctx context.Context, names []string, reportID *int64) (common.Counts, error) {
	var counts common.Counts
	where, args, skip := entityFilter(names, reportID)
	if skip {
		return counts, nil
	}

	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		var err error
		counts, err = deleteEntities(ctx, tx, where, args)
		return err
	})
	if err != nil {
		return common.Counts{}, err
	}
	logger.Debug("[Store][DeleteEntities] deleted",
		"events", counts.Events, "factors", counts.Factors, "variables", counts.Variables)
	return counts, nil
}

func (s *PGStorage) ReplaceEntities(ctx context.Context, names []string, entities []common.Entity) (deleted, inserted common.Counts, err error) {
	if err := store.ValidateEntities(entities); err != nil {
		return deleted, inserted, err
	}
	where, args, skip := entityFilter(names, nil)

	err = s.withTx(ctx, func(tx pgxv5.Tx) error {
		var txErr error
		if !skip {
			if deleted, txErr = deleteEntities(ctx, tx, where, args); txErr != nil {
				return txErr
			}
		}
		inserted, txErr = copyEntities(ctx, tx, entities)
		return txErr
	})
	if err != nil {
		return common.Counts{}, common.Counts{}, err
	}
	logger.Debug("[Store][ReplaceEntities] replaced",
		"deleted", deleted.Total(), "inserted", inserted.Total())
	return deleted, inserted, nil
}

func (s *PGStorage) EntitiesBySections(ctx context.Context, sectionIDs []int64) ([]common.Entity, error) {
	ids := store.DedupeInt64(sectionIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	var out []common.Entity
	for _, kind := range common.Kinds {
		q := fmt.Sprintf("SELECT %s FROM %s WHERE section_id = ANY($1) ORDER BY id",
			strings.Join(store.EntityColumns(kind), ", "), kind.Table())
		rows, err := s.conn.Query(ctx, q, ids)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", kind, err)
		}
		recs, err := pgxv5.CollectRows(rows, pgxv5.RowToStructByNameLax[store.EntityRow])
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		for _, r := range recs {
			out = append(out, r.Entity(kind))
		}
	}
	return out, nil
}
