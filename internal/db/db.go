// Package db connects to the database behind the application under test.
// Probes run inside one transaction so every savepoint lives on the same
// session; the transaction is rolled back when the suite ends.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB wraps the database connection pool
type DB struct {
	pool *pgxpool.Pool
	sql  *sql.DB
}

// Options tunes the pool
type Options struct {
	MaxConns int32
	MinConns int32
}

// New creates a new database connection
func New(ctx context.Context, databaseURL string, opts Options) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= config.MaxConns {
		config.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", config.ConnConfig.Host).Str("database", config.ConnConfig.Database).Msg("connected to database")

	return FromPool(pool), nil
}

// FromPool wraps an existing pool
func FromPool(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool, sql: stdlib.OpenDBFromPool(pool)}
}

// Close closes the database connection
func (db *DB) Close() {
	if db.sql != nil {
		db.sql.Close()
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// SQL returns a database/sql handle sharing the pool
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// HealthCheck verifies database connectivity
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Session is a transaction pinned to one connection. Entities built over
// it see each other's writes and can nest savepoints.
type Session struct {
	*sql.Tx
}

// Begin opens a probe session
func (db *DB) Begin(ctx context.Context) (*Session, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}
	return &Session{Tx: tx}, nil
}

// Close discards everything written during the session
func (s *Session) Close() error {
	if err := s.Tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to roll back session: %w", err)
	}
	return nil
}

// Queryer runs read queries; *sql.DB, *sql.Tx and *Session satisfy it
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tables lists the base tables of the public schema
func Tables(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

const tablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`
