package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/querybind/internal/queryir"
	"github.com/roach88/querybind/internal/querysql"
)

// CreateTable creates the table for t and records it in the catalog.
// Creating a table that already exists with the same columns is a no-op;
// a table of the same name with different columns is an error.
//
// Columns of non-nullable properties are NOT NULL. The entity key, when the
// type declares one, is a UNIQUE constraint rather than the primary key so
// that rowid keeps insertion order.
func (s *Store) CreateTable(ctx context.Context, t *queryir.Table) error {
	if t == nil || len(t.Columns) == 0 {
		return fmt.Errorf("create table: table has no columns")
	}

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		def := quote(c.Name) + " " + querysql.ColumnType(c.Property.Type)
		if !c.Property.Type.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	signature := strings.Join(defs, ", ")

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM entity_tables WHERE name = ?`, t.Name).Scan(&existing)
	switch {
	case err == nil:
		if existing != signature {
			return fmt.Errorf("create table %s: exists with columns (%s)", t.Name, existing)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}

	keys := make([]string, 0, len(t.Type.Keys))
	for _, k := range t.Type.Keys {
		p, ok := t.Type.Property(k)
		if !ok {
			return fmt.Errorf("create table %s: key %s is not a property", t.Name, k)
		}
		if _, ok := t.Column(p); !ok {
			return fmt.Errorf("create table %s: key %s is not a column", t.Name, k)
		}
		keys = append(keys, quote(k))
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + quote(t.Name) + " (" + signature
	if len(keys) > 0 {
		ddl += ", UNIQUE (" + strings.Join(keys, ", ") + ")"
	}
	ddl += ")"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_tables (name, entity_type, columns)
		VALUES (?, ?, ?)
	`, t.Name, t.Type.FullName(), signature); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}

	s.log.Debug("created table", "table", t.Name, "entity", t.Type.FullName(), "columns", len(t.Columns))
	return nil
}

// Insert writes rows into t in one transaction and returns how many were
// stored. Rows are read through the entity type's property accessors.
// Uses ON CONFLICT DO NOTHING - a row whose key is already present is
// silently skipped. Other constraint violations (e.g., NOT NULL) roll back
// the whole batch.
func (s *Store) Insert(ctx context.Context, t *queryir.Table, rows []any) (int64, error) {
	if t == nil || len(t.Columns) == 0 {
		return 0, fmt.Errorf("insert: table has no columns")
	}

	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
	}
	stmt := "INSERT INTO " + quote(t.Name) + " (" + strings.Join(cols, ", ") +
		") VALUES (" + strings.Join(marks, ", ") + ") ON CONFLICT DO NOTHING"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	defer prepared.Close()

	var stored int64
	args := make([]any, len(t.Columns))
	for i, row := range rows {
		for j, c := range t.Columns {
			v, err := c.Property.Get(row)
			if err != nil {
				return 0, fmt.Errorf("insert into %s: row %d: %w", t.Name, i, err)
			}
			if args[j], err = querysql.ToSQL(v); err != nil {
				return 0, fmt.Errorf("insert into %s: row %d: column %s: %w", t.Name, i, c.Name, err)
			}
		}
		res, err := prepared.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: row %d: %w", t.Name, i, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		stored += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	s.log.Debug("inserted rows", "table", t.Name, "rows", len(rows), "stored", stored)
	return stored, nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
