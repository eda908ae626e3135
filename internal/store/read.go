package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/querybind/internal/queryir"
	"github.com/roach88/querybind/internal/querysql"
)

// Row is one selected row keyed by column name. Values are normalized
// runtime values of the column's property type.
type Row map[string]any

// Select compiles q and returns the matching rows in query order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Select(ctx context.Context, q *queryir.Select) ([]Row, error) {
	start := time.Now()
	stmt, params, err := querysql.NewSQLCompiler().Compile(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.From.Name, err)
	}
	defer rows.Close()

	out := []Row{}
	columns := q.Selected()
	dest := make([]any, len(columns))
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.From.Name, err)
		}
		row := make(Row, len(dest))
		for i, c := range columns {
			v, err := querysql.FromSQL(dest[i], c.Property.Type)
			if err != nil {
				return nil, fmt.Errorf("scan %s.%s: %w", q.From.Name, c.Name, err)
			}
			row[c.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.From.Name, err)
	}

	s.log.Debug("select",
		"sql", stmt,
		"params", len(params),
		"rows", len(out),
		"duration", time.Since(start))
	return out, nil
}

// Count compiles q and returns the number of matching rows.
func (s *Store) Count(ctx context.Context, q *queryir.Count) (int64, error) {
	stmt, params, err := querysql.NewSQLCompiler().Compile(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.From.Name, err)
	}
	s.log.Debug("count", "sql", stmt, "count", n)
	return n, nil
}

// Tables lists the catalog: table name to entity type name.
func (s *Store) Tables(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, entity_type FROM entity_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]string)
	for rows.Next() {
		var name, entity string
		if err := rows.Scan(&name, &entity); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		tables[name] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return tables, nil
}
