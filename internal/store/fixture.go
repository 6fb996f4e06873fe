package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Insert adds one row and returns its key
func (s *SQL) Insert(ctx context.Context, values map[string]any) (any, error) {
	cols := sortedKeys(values)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = pq.QuoteIdentifier(c)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s", pq.QuoteIdentifier(s.table))
	if len(cols) == 0 {
		query += " DEFAULT VALUES"
	} else {
		query += fmt.Sprintf(" (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(marks, ", "))
	}
	query += " RETURNING " + pq.QuoteIdentifier(s.pk)

	var pk any
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&pk); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.table, err)
	}
	return normalise(pk), nil
}

// Load inserts fixture rows in order, stopping at the first failure
func (s *SQL) Load(ctx context.Context, rows []map[string]any) (int, error) {
	for i, row := range rows {
		if _, err := s.Insert(ctx, row); err != nil {
			return i, fmt.Errorf("fixture row %d: %w", i, err)
		}
	}
	return len(rows), nil
}
