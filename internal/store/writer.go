package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE Postgres raises for a duplicate natural key.
const uniqueViolation = "23505"

type pgWriter struct {
	tx pgx.Tx
}

func (w *pgWriter) Upsert(ctx context.Context, kind Kind, key, fields Fields) (Record, bool, error) {
	key, err := kind.normalizeKey(key)
	if err != nil {
		return Record{}, false, err
	}
	if err := kind.checkFields(fields); err != nil {
		return Record{}, false, err
	}

	rec, found, err := w.lookup(ctx, kind, key)
	if err != nil {
		return Record{}, false, err
	}
	if found {
		rec, err = w.Update(ctx, rec, fields)
		if err != nil {
			return Record{}, false, err
		}
		upsertsTotal.WithLabelValues(kind.Name, "updated").Inc()
		return rec, false, nil
	}
	return w.create(ctx, kind, key, fields)
}

func (w *pgWriter) GetOrCreate(ctx context.Context, kind Kind, key Fields) (Record, bool, error) {
	key, err := kind.normalizeKey(key)
	if err != nil {
		return Record{}, false, err
	}
	rec, found, err := w.lookup(ctx, kind, key)
	if err != nil {
		return Record{}, false, err
	}
	if found {
		return rec, false, nil
	}
	return w.create(ctx, kind, key, nil)
}

func (w *pgWriter) Update(ctx context.Context, rec Record, fields Fields) (Record, error) {
	kind, ok := KindByName(rec.Kind)
	if !ok {
		return Record{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, rec.Kind)
	}
	if err := kind.checkFields(fields); err != nil {
		return Record{}, err
	}
	cols := kind.fieldOrder(fields)
	if len(cols) == 0 {
		return rec, nil
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, fields[col])
	}
	args = append(args, rec.ID)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", kind.Table, strings.Join(sets, ", "), len(args))
	tag, err := w.tx.Exec(ctx, q, args...)
	if err != nil {
		return Record{}, classify(err)
	}
	if tag.RowsAffected() != 1 {
		return Record{}, fmt.Errorf("%w: %s record %d vanished", ErrConflict, kind.Name, rec.ID)
	}
	return rec.with(fields), nil
}

// lookup locks and returns the record for a normalized key.
func (w *pgWriter) lookup(ctx context.Context, kind Kind, key Fields) (Record, bool, error) {
	where, args := keyWhere(kind, key, 1)
	q := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s FOR UPDATE", joinCols(kind.Columns()), kind.Table, where)
	rows, err := w.tx.Query(ctx, q, args...)
	if err != nil {
		return Record{}, false, classify(err)
	}
	recs, err := collectRecords(rows, kind)
	if err != nil {
		return Record{}, false, classify(err)
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

// create inserts key+fields under a savepoint. When another writer created
// the same key first, the savepoint is rolled back and the write is retried
// once as an update of the winner's row.
func (w *pgWriter) create(ctx context.Context, kind Kind, key, fields Fields) (Record, bool, error) {
	cols := append(append([]string{}, kind.Key...), kind.fieldOrder(fields)...)
	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		if v, ok := key[col]; ok {
			args[i] = v
		} else {
			args[i] = fields[col]
		}
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		kind.Table, joinCols(cols), strings.Join(marks, ", "))

	sp, err := w.tx.Begin(ctx)
	if err != nil {
		return Record{}, false, classify(err)
	}
	var id int64
	err = sp.QueryRow(ctx, q, args...).Scan(&id)
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return Record{}, false, classify(err)
		}
		upsertsTotal.WithLabelValues(kind.Name, "created").Inc()
		rec := Record{ID: id, Kind: kind.Name, Key: key, Values: Fields{}}
		return rec.with(fields), true, nil
	}
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return Record{}, false, classify(rbErr)
	}
	if !isUniqueViolation(err) {
		return Record{}, false, classify(err)
	}

	conflictRetries.WithLabelValues(kind.Name).Inc()
	rec, err := retryAsUpdate(ctx, kind, key, fields, w.lookup, w.Update)
	if err != nil {
		return Record{}, false, err
	}
	upsertsTotal.WithLabelValues(kind.Name, "updated").Inc()
	return rec, false, nil
}

type (
	lookupFunc func(ctx context.Context, kind Kind, key Fields) (Record, bool, error)
	updateFunc func(ctx context.Context, rec Record, fields Fields) (Record, error)
)

// retryAsUpdate applies fields to the row the winning writer committed.
// Finding no row is the second failure and ends in ErrConflict.
func retryAsUpdate(ctx context.Context, kind Kind, key, fields Fields, lookup lookupFunc, update updateFunc) (Record, error) {
	rec, found, err := lookup(ctx, kind, key)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("%w: %s %v", ErrConflict, kind.Name, key)
	}
	return update(ctx, rec, fields)
}

func keyWhere(kind Kind, key Fields, first int) (string, []any) {
	conds := make([]string, len(kind.Key))
	args := make([]any, len(kind.Key))
	for i, col := range kind.Key {
		conds[i] = fmt.Sprintf("%s = $%d", col, first+i)
		args[i] = key[col]
	}
	return strings.Join(conds, " AND "), args
}

func joinCols(cols []string) string {
	return strings.Join(cols, ", ")
}

// collectRecords scans rows shaped as (id, key columns..., value columns...).
func collectRecords(rows pgx.Rows, kind Kind) ([]Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		vals, err := row.Values()
		if err != nil {
			return Record{}, err
		}
		rec := Record{Kind: kind.Name, Key: Fields{}, Values: Fields{}}
		id, ok := vals[0].(int64)
		if !ok {
			return Record{}, fmt.Errorf("unexpected id type %T", vals[0])
		}
		rec.ID = id
		for i, col := range kind.Key {
			rec.Key[col] = vals[1+i]
		}
		for i, col := range kind.Values {
			if v := vals[1+len(kind.Key)+i]; v != nil {
				rec.Values[col] = v
			}
		}
		return rec, nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// classify marks anything that is not a server-side SQL error as unavailability.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
