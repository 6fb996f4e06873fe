package db

import (
	"context"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDB_Pool_Nil(t *testing.T) {
	db := &DB{pool: nil}

	pool := db.Pool()
	if pool != nil {
		t.Error("Pool() should return nil when pool is nil")
	}
}

func TestTables(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery(regexp.QuoteMeta(tablesQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("auth_user").AddRow("product"))

	tables, err := Tables(context.Background(), conn)
	if err != nil {
		t.Fatalf("Tables() error: %v", err)
	}
	if want := []string{"auth_user", "product"}; !reflect.DeepEqual(tables, want) {
		t.Errorf("Tables() = %v, want %v", tables, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSession_CloseRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO product").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	db := &DB{sql: conn}
	s, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := s.ExecContext(context.Background(), "INSERT INTO product (name) VALUES ($1)", "lamp"); err != nil {
		t.Fatalf("ExecContext() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
