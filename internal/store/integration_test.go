//go:build integration
// +build integration

package store

import (
	"context"
	"testing"

	"github.com/QTest-hq/formprobe/internal/testutil"
	"github.com/QTest-hq/formprobe/pkg/target"
)

func TestIntegration_SavepointRollback(t *testing.T) {
	conn := testutil.RequireDB(t)
	ctx := context.Background()

	session, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	defer session.Close()

	items := NewSQL(session, "formprobe_item", "id")
	if _, err := session.ExecContext(ctx, `INSERT INTO formprobe_item (name, count) VALUES ('kept', 2)`); err != nil {
		t.Fatalf("insert error: %v", err)
	}

	sp, err := items.Savepoint(ctx)
	if err != nil {
		t.Fatalf("Savepoint() error: %v", err)
	}
	if _, err := session.ExecContext(ctx, `INSERT INTO formprobe_item (name) VALUES ('gone')`); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	n, err := items.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d inside savepoint, want 2", n)
	}

	if err := sp.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	n, _ = items.Count(ctx)
	if n != 1 {
		t.Errorf("Count() = %d after rollback, want 1", n)
	}

	rec, err := items.First(ctx)
	if err != nil {
		t.Fatalf("First() error: %v", err)
	}
	if rec.Values["name"] != "kept" {
		t.Errorf("name = %v, want kept", rec.Values["name"])
	}
}

func TestIntegration_Introspect(t *testing.T) {
	conn := testutil.RequireDB(t)

	fields, err := NewSQL(conn.SQL(), "formprobe_item", "id").Fields(context.Background())
	if err != nil {
		t.Fatalf("Fields() error: %v", err)
	}

	byName := make(map[string]target.FieldSchema)
	for _, f := range fields {
		byName[f.Name] = f
	}
	if !byName["id"].PK {
		t.Error("id should be the primary key")
	}
	if name := byName["name"]; !name.Unique || name.MaxLength != 120 || name.Kind != target.FieldString {
		t.Errorf("name schema = %+v", name)
	}
	if byName["price"].Kind != target.FieldDecimal {
		t.Errorf("price kind = %s, want decimal", byName["price"].Kind)
	}
	if byName["created"].Kind != target.FieldDateTime {
		t.Errorf("created kind = %s, want datetime", byName["created"].Kind)
	}
}
