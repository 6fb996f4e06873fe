// Package store implements target.Entity over an in-memory table and over a
// SQL table reached through database/sql.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/QTest-hq/formprobe/pkg/target"
)

// Memory is an in-memory table with integer keys. Savepoints snapshot the
// whole table, so nested savepoints roll back independently.
type Memory struct {
	mu     sync.Mutex
	name   string
	schema []target.FieldSchema
	rows   []target.Record
	nextPK int64
}

// NewMemory creates an empty table
func NewMemory(name string, schema []target.FieldSchema) *Memory {
	return &Memory{name: name, schema: schema, nextPK: 1}
}

// Insert stores a new row and returns it with its key
func (m *Memory) Insert(values map[string]any, related map[string][]target.Record) target.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := target.Record{PK: m.nextPK, Values: copyValues(values), Related: copyRelated(related)}
	m.nextPK++
	m.rows = append(m.rows, rec)
	return copyRecord(rec)
}

// Replace overwrites a row's values and related rows
func (m *Memory) Replace(pk any, values map[string]any, related map[string][]target.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(pk)
	if i < 0 {
		return fmt.Errorf("%s %v: %w", m.name, pk, target.ErrNotFound)
	}
	m.rows[i].Values = copyValues(values)
	m.rows[i].Related = copyRelated(related)
	return nil
}

func (m *Memory) Name() string {
	return m.name
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

func (m *Memory) PKs(_ context.Context) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.PK)
	}
	return out, nil
}

// Filter returns rows whose values equal every entry of where. Values are
// compared by their printed form so 3 matches "3".
func (m *Memory) Filter(_ context.Context, where map[string]any) ([]target.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []target.Record
	for _, r := range m.rows {
		if matches(r, where) {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (m *Memory) Exclude(_ context.Context, pks []any) ([]target.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[string]bool, len(pks))
	for _, pk := range pks {
		skip[fmt.Sprint(pk)] = true
	}
	var out []target.Record
	for _, r := range m.rows {
		if !skip[fmt.Sprint(r.PK)] {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, pk any) (target.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(pk)
	if i < 0 {
		return target.Record{}, fmt.Errorf("%s %v: %w", m.name, pk, target.ErrNotFound)
	}
	return copyRecord(m.rows[i]), nil
}

func (m *Memory) First(_ context.Context) (target.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) == 0 {
		return target.Record{}, fmt.Errorf("%s: %w", m.name, target.ErrNotFound)
	}
	return copyRecord(m.rows[0]), nil
}

func (m *Memory) Update(_ context.Context, pk any, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(pk)
	if i < 0 {
		return fmt.Errorf("%s %v: %w", m.name, pk, target.ErrNotFound)
	}
	if m.rows[i].Values == nil {
		m.rows[i].Values = make(map[string]any, len(values))
	}
	for k, v := range values {
		m.rows[i].Values[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, pk any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(pk)
	if i < 0 {
		return fmt.Errorf("%s %v: %w", m.name, pk, target.ErrNotFound)
	}
	m.rows = append(m.rows[:i], m.rows[i+1:]...)
	return nil
}

func (m *Memory) Fields(_ context.Context) ([]target.FieldSchema, error) {
	return append([]target.FieldSchema(nil), m.schema...), nil
}

func (m *Memory) Savepoint(_ context.Context) (target.Savepoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]target.Record, len(m.rows))
	for i, r := range m.rows {
		rows[i] = copyRecord(r)
	}
	return &memorySavepoint{m: m, rows: rows, nextPK: m.nextPK}, nil
}

func (m *Memory) index(pk any) int {
	key := fmt.Sprint(pk)
	for i, r := range m.rows {
		if fmt.Sprint(r.PK) == key {
			return i
		}
	}
	return -1
}

type memorySavepoint struct {
	m      *Memory
	rows   []target.Record
	nextPK int64
	done   bool
}

func (s *memorySavepoint) Rollback(_ context.Context) error {
	if s.done {
		return fmt.Errorf("savepoint already closed")
	}
	s.done = true
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.rows = s.rows
	// keys are never reused, as in a database sequence
	return nil
}

func (s *memorySavepoint) Release(_ context.Context) error {
	if s.done {
		return fmt.Errorf("savepoint already closed")
	}
	s.done = true
	return nil
}

func matches(r target.Record, where map[string]any) bool {
	for k, want := range where {
		got, ok := r.Values[k]
		if k == "pk" && !ok {
			got, ok = r.PK, true
		}
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		out[k] = v
	}
	return out
}

func copyRelated(related map[string][]target.Record) map[string][]target.Record {
	if related == nil {
		return nil
	}
	out := make(map[string][]target.Record, len(related))
	for k, recs := range related {
		rows := make([]target.Record, len(recs))
		for i, r := range recs {
			rows[i] = copyRecord(r)
		}
		out[k] = rows
	}
	return out
}

func copyRecord(r target.Record) target.Record {
	return target.Record{PK: r.PK, Values: copyValues(r.Values), Related: copyRelated(r.Related)}
}

// sortedKeys returns map keys in a stable order for generated SQL
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
