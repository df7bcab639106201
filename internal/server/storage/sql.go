package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/athena-ai/dashboard/internal/schema"
)

// SQL is the Backend shared by the SQLite and PostgreSQL stores. The two
// differ only in their schema.Dialect: column types, value encodings and the
// insertion-order expression. Placeholders are written as '?' and rebound by
// sqlx for the active driver.
type SQL struct {
	db      *sqlx.DB
	dialect schema.Dialect
	onClose func()
}

// sqlView runs statements against either the database or an open
// transaction.
type sqlView struct {
	ext     sqlx.ExtContext
	dialect schema.Dialect
}

// Dialect reports the physical encoding used by this backend.
func (s *SQL) Dialect() schema.Dialect { return s.dialect }

// DB exposes the underlying handle for schema-level assertions in tests.
func (s *SQL) DB() *sqlx.DB { return s.db }

func (s *SQL) view() *sqlView { return &sqlView{ext: s.db, dialect: s.dialect} }

// migrate applies the generated DDL for every entity. All statements are
// idempotent.
func (s *SQL) migrate(ctx context.Context) error {
	for _, e := range schema.All {
		for _, stmt := range e.DDL(s.dialect) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema for %s: %w", e.Table, err)
			}
		}
	}
	return nil
}

// Get implements Backend.
func (s *SQL) Get(ctx context.Context, e *schema.Entity, id string) (Record, error) {
	return s.view().Get(ctx, e, id)
}

// List implements Backend.
func (s *SQL) List(ctx context.Context, e *schema.Entity, f Filter) ([]Record, error) {
	return s.view().List(ctx, e, f)
}

// Insert implements Backend.
func (s *SQL) Insert(ctx context.Context, e *schema.Entity, rec Record) error {
	return s.view().Insert(ctx, e, rec)
}

// Replace implements Backend.
func (s *SQL) Replace(ctx context.Context, e *schema.Entity, id string, rec Record) (bool, error) {
	return s.view().Replace(ctx, e, id, rec)
}

// Delete implements Backend.
func (s *SQL) Delete(ctx context.Context, e *schema.Entity, id string) (bool, error) {
	return s.view().Delete(ctx, e, id)
}

// Prune implements Backend.
func (s *SQL) Prune(ctx context.Context, e *schema.Entity, field string, before time.Time, keep int) (int64, error) {
	var n int64
	err := s.Atomic(ctx, func(tx Backend) error {
		var err error
		n, err = tx.Prune(ctx, e, field, before, keep)
		return err
	})
	return n, err
}

// Atomic implements Backend using a database transaction.
func (s *SQL) Atomic(ctx context.Context, fn func(tx Backend) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlView{ext: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *SQL) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (v *sqlView) Get(ctx context.Context, e *schema.Entity, id string) (Record, error) {
	query := v.ext.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(e.Columns(), ", "), e.Table))
	row := v.ext.QueryRowxContext(ctx, query, id)

	cols := make(map[string]any, len(e.Fields))
	if err := row.MapScan(cols); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s %s: %w", e.Table, id, err)
	}
	return v.decode(e, cols)
}

func (v *sqlView) List(ctx context.Context, e *schema.Entity, f Filter) ([]Record, error) {
	if err := checkFilter(e, f); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	for name, val := range f.Where {
		field := e.Field(name)
		enc, err := v.dialect.Encode(field, val)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", e.Table, err)
		}
		if enc == nil {
			where = append(where, field.Column+" IS NULL")
			continue
		}
		where = append(where, field.Column+" = ?")
		args = append(args, enc)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(e.Columns(), ", "), e.Table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + v.orderBy(e)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := v.ext.QueryxContext(ctx, v.ext.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", e.Table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		cols := make(map[string]any, len(e.Fields))
		if err := rows.MapScan(cols); err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.Table, err)
		}
		rec, err := v.decode(e, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (v *sqlView) Insert(ctx context.Context, e *schema.Entity, rec Record) error {
	args, err := v.encode(e, rec)
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.Table, err)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := v.ext.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.Table, strings.Join(e.Columns(), ", "), marks))
	if _, err := v.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", e.Table, err)
	}
	return nil
}

func (v *sqlView) Replace(ctx context.Context, e *schema.Entity, id string, rec Record) (bool, error) {
	next := rec.clone()
	next["id"] = id
	args, err := v.encode(e, next)
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", e.Table, id, err)
	}

	// Column 0 is the primary key: SET the rest, match on the first.
	sets := make([]string, 0, len(e.Fields)-1)
	for _, col := range e.Columns()[1:] {
		sets = append(sets, col+" = ?")
	}
	query := v.ext.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		e.Table, strings.Join(sets, ", ")))
	args = append(args[1:], args[0])

	res, err := v.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", e.Table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", e.Table, id, err)
	}
	return n > 0, nil
}

func (v *sqlView) Delete(ctx context.Context, e *schema.Entity, id string) (bool, error) {
	res, err := v.ext.ExecContext(ctx, v.ext.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", e.Table)), id)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", e.Table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", e.Table, id, err)
	}
	return n > 0, nil
}

func (v *sqlView) Prune(ctx context.Context, e *schema.Entity, field string, before time.Time, keep int) (int64, error) {
	f := e.Field(field)
	if f == nil || f.Kind != schema.KindTime {
		return 0, fmt.Errorf("prune %s: %q is not a timestamp field", e.Table, field)
	}

	var removed int64
	if !before.IsZero() {
		cutoff, err := v.dialect.Encode(f, schema.Timestamp(before))
		if err != nil {
			return 0, err
		}
		res, err := v.ext.ExecContext(ctx,
			v.ext.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", e.Table, f.Column)), cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune %s by age: %w", e.Table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if keep > 0 {
		query := fmt.Sprintf(
			"DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY %s DESC, %s DESC LIMIT ?)",
			e.Table, e.Table, f.Column, v.dialect.InsertionOrder())
		res, err := v.ext.ExecContext(ctx, v.ext.Rebind(query), keep)
		if err != nil {
			return 0, fmt.Errorf("prune %s by count: %w", e.Table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

func (v *sqlView) Atomic(ctx context.Context, fn func(tx Backend) error) error {
	return fn(v)
}

func (v *sqlView) Close() error { return nil }

func (v *sqlView) orderBy(e *schema.Entity) string {
	if e.OrderBy == "" {
		return v.dialect.InsertionOrder()
	}
	return e.Field(e.OrderBy).Column + " DESC, " + v.dialect.InsertionOrder() + " DESC"
}

// encode returns the column arguments for rec in declaration order.
func (v *sqlView) encode(e *schema.Entity, rec Record) ([]any, error) {
	args := make([]any, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		enc, err := v.dialect.Encode(f, rec[f.Name])
		if err != nil {
			return nil, err
		}
		args[i] = enc
	}
	return args, nil
}

// decode maps scanned columns back to a Record keyed by field name.
func (v *sqlView) decode(e *schema.Entity, cols map[string]any) (Record, error) {
	rec := make(Record, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		val, err := v.dialect.Decode(f, cols[f.Column])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Table, err)
		}
		rec[f.Name] = val
	}
	return rec, nil
}
