package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/QTest-hq/formprobe/pkg/target"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx. Savepoints need a
// single session, so pass a *sql.Tx or *sql.Conn when probes roll back.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL is a table reached through database/sql with Postgres placeholders
type SQL struct {
	q     Querier
	table string
	pk    string
}

// NewSQL creates an entity over table with primary key column pk
func NewSQL(q Querier, table, pk string) *SQL {
	if pk == "" {
		pk = "id"
	}
	return &SQL{q: q, table: table, pk: pk}
}

func (s *SQL) Name() string {
	return s.table
}

func (s *SQL) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return n, nil
}

func (s *SQL) PKs(ctx context.Context) ([]any, error) {
	pk := pq.QuoteIdentifier(s.pk)
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", pk, pq.QuoteIdentifier(s.table), pk))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", s.table, err)
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", s.table, err)
		}
		out = append(out, normalise(v))
	}
	return out, rows.Err()
}

func (s *SQL) Filter(ctx context.Context, where map[string]any) ([]target.Record, error) {
	var conds []string
	var args []any
	for _, k := range sortedKeys(where) {
		args = append(args, where[k])
		conds = append(conds, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), len(args)))
	}
	query := "SELECT * FROM " + pq.QuoteIdentifier(s.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return s.query(ctx, query+" ORDER BY "+pq.QuoteIdentifier(s.pk), args...)
}

func (s *SQL) Exclude(ctx context.Context, pks []any) ([]target.Record, error) {
	pk := pq.QuoteIdentifier(s.pk)
	query := fmt.Sprintf("SELECT * FROM %s WHERE NOT (%s = ANY($1)) ORDER BY %s", pq.QuoteIdentifier(s.table), pk, pk)
	return s.query(ctx, query, pq.Array(pks))
}

func (s *SQL) Get(ctx context.Context, pk any) (target.Record, error) {
	recs, err := s.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(s.pk)), pk)
	if err != nil {
		return target.Record{}, err
	}
	if len(recs) == 0 {
		return target.Record{}, fmt.Errorf("%s %v: %w", s.table, pk, target.ErrNotFound)
	}
	return recs[0], nil
}

func (s *SQL) First(ctx context.Context) (target.Record, error) {
	recs, err := s.query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT 1", pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(s.pk)))
	if err != nil {
		return target.Record{}, err
	}
	if len(recs) == 0 {
		return target.Record{}, fmt.Errorf("%s: %w", s.table, target.ErrNotFound)
	}
	return recs[0], nil
}

func (s *SQL) Update(ctx context.Context, pk any, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	var sets []string
	var args []any
	for _, k := range sortedKeys(values) {
		args = append(args, values[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), len(args)))
	}
	args = append(args, pk)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", pq.QuoteIdentifier(s.table), strings.Join(sets, ", "), pq.QuoteIdentifier(s.pk), len(args))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %v: %w", s.table, pk, err)
	}
	return affected(res, s.table, pk)
}

func (s *SQL) Delete(ctx context.Context, pk any) error {
	res, err := s.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(s.pk)), pk)
	if err != nil {
		return fmt.Errorf("failed to delete %s %v: %w", s.table, pk, err)
	}
	return affected(res, s.table, pk)
}

// Fields introspects the table's columns, primary key and unique constraints
func (s *SQL) Fields(ctx context.Context) ([]target.FieldSchema, error) {
	return Introspect(ctx, s.q, s.table)
}

// Savepoint opens a named savepoint on the entity's session
func (s *SQL) Savepoint(ctx context.Context) (target.Savepoint, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := s.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("failed to open savepoint: %w", err)
	}
	return &sqlSavepoint{q: s.q, name: name}, nil
}

func (s *SQL) query(ctx context.Context, query string, args ...any) ([]target.Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()
	recs, err := ScanRecords(rows, s.pk)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.table, err)
	}
	return recs, nil
}

// ScanRecords reads every row into a record keyed by column name
func ScanRecords(rows *sql.Rows, pk string) ([]target.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []target.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := target.Record{Values: make(map[string]any, len(cols))}
		for i, col := range cols {
			v := normalise(values[i])
			rec.Values[col] = v
			if col == pk {
				rec.PK = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func normalise(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func affected(res sql.Result, table string, pk any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", table, pk, target.ErrNotFound)
	}
	return nil
}

type sqlSavepoint struct {
	q    Querier
	name string
}

func (s *sqlSavepoint) Rollback(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+s.name); err != nil {
		return fmt.Errorf("failed to roll back to %s: %w", s.name, err)
	}
	if _, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+s.name); err != nil {
		return fmt.Errorf("failed to release %s: %w", s.name, err)
	}
	return nil
}

func (s *sqlSavepoint) Release(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+s.name); err != nil {
		return fmt.Errorf("failed to release %s: %w", s.name, err)
	}
	return nil
}

const columnsQuery = `SELECT column_name, data_type, character_maximum_length, is_nullable
FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`

const constraintsQuery = `SELECT kcu.column_name, tc.constraint_type
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_name = $1 AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')`

// Introspect builds the field schema of a table from information_schema
func Introspect(ctx context.Context, q Querier, table string) ([]target.FieldSchema, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	var fields []target.FieldSchema
	index := make(map[string]int)
	for rows.Next() {
		var name, dataType, nullable string
		var maxLength sql.NullInt64
		if err := rows.Scan(&name, &dataType, &maxLength, &nullable); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		index[name] = len(fields)
		fields = append(fields, target.FieldSchema{
			Name:      name,
			Kind:      KindOf(dataType),
			MaxLength: int(maxLength.Int64),
			Required:  nullable == "NO",
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, target.ErrNotFound)
	}

	rows, err = q.QueryContext(ctx, constraintsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraints of %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var column, kind string
		if err := rows.Scan(&column, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan constraint of %s: %w", table, err)
		}
		i, ok := index[column]
		if !ok {
			continue
		}
		switch kind {
		case "PRIMARY KEY":
			fields[i].PK = true
		case "UNIQUE":
			fields[i].Unique = true
		}
	}
	return fields, rows.Err()
}

// KindOf maps an information_schema data type to a field kind
func KindOf(dataType string) target.FieldKind {
	t := strings.ToLower(dataType)
	switch {
	case t == "integer" || t == "bigint" || t == "smallint" || t == "int":
		return target.FieldInt
	case t == "double precision" || t == "real" || t == "float":
		return target.FieldFloat
	case t == "numeric" || t == "decimal":
		return target.FieldDecimal
	case t == "boolean":
		return target.FieldBool
	case t == "date":
		return target.FieldDate
	case strings.HasPrefix(t, "timestamp"):
		return target.FieldDateTime
	}
	return target.FieldString
}

// IsNotFound reports whether err means a missing row
func IsNotFound(err error) bool {
	return errors.Is(err, target.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
