package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/pkg/target"
)

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("product", nil)

	a := m.Insert(map[string]any{"name": "a", "count": 3}, nil)
	b := m.Insert(map[string]any{"name": "b", "count": 4}, nil)
	assert.Equal(t, int64(1), a.PK)
	assert.Equal(t, int64(2), b.PK)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pks, err := m.PKs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, pks)

	found, err := m.Filter(ctx, map[string]any{"count": "4"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].Values["name"])

	others, err := m.Exclude(ctx, []any{1})
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, int64(2), others[0].PK)

	require.NoError(t, m.Update(ctx, 1, map[string]any{"name": "z"}))
	got, err := m.Get(ctx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "z", got.Values["name"])

	got.Values["name"] = "mutated"
	again, _ := m.Get(ctx, 1)
	assert.Equal(t, "z", again.Values["name"])

	require.NoError(t, m.Delete(ctx, 1))
	_, err = m.Get(ctx, 1)
	assert.ErrorIs(t, err, target.ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, 1), target.ErrNotFound)

	first, err := m.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.PK)
}

func TestMemory_SavepointRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("product", nil)
	m.Insert(map[string]any{"name": "kept"}, nil)

	sp, err := m.Savepoint(ctx)
	require.NoError(t, err)
	created := m.Insert(map[string]any{"name": "gone"}, nil)
	require.NoError(t, m.Update(ctx, 1, map[string]any{"name": "changed"}))

	inner, err := m.Savepoint(ctx)
	require.NoError(t, err)
	m.Insert(map[string]any{"name": "inner"}, nil)
	require.NoError(t, inner.Rollback(ctx))
	n, _ := m.Count(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, sp.Rollback(ctx))
	n, _ = m.Count(ctx)
	assert.Equal(t, 1, n)
	kept, _ := m.Get(ctx, 1)
	assert.Equal(t, "kept", kept.Values["name"])

	next := m.Insert(nil, nil)
	assert.NotEqual(t, created.PK, next.PK)
	assert.Error(t, sp.Rollback(ctx))
}

func TestMemory_SavepointRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("product", nil)
	sp, err := m.Savepoint(ctx)
	require.NoError(t, err)
	m.Insert(map[string]any{"name": "saved"}, nil)
	require.NoError(t, sp.Release(ctx))

	n, _ := m.Count(ctx)
	assert.Equal(t, 1, n)
	assert.Error(t, sp.Release(ctx))
}

func TestMemory_Related(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("order", nil)
	rec := m.Insert(map[string]any{"title": "o"}, map[string][]target.Record{
		"items": {{PK: 10, Values: map[string]any{"name": "x"}}},
	})
	got, err := m.Get(ctx, rec.PK)
	require.NoError(t, err)
	require.Len(t, got.Related["items"], 1)

	require.NoError(t, m.Replace(rec.PK, map[string]any{"title": "p"}, nil))
	got, _ = m.Get(ctx, rec.PK)
	assert.Equal(t, "p", got.Values["title"])
	assert.Empty(t, got.Related)
}
