package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *sql.DB, *sql.Tx and *db.Session
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLUsers is the user directory of a database-backed application
type SQLUsers struct {
	q          Execer
	table      string
	resetTable string
	cost       int
}

// NewSQLUsers reads accounts from table and reset codes from resetTable.
// Empty names fall back to formprobe_user and formprobe_reset_code.
func NewSQLUsers(q Execer, table, resetTable string, cost int) *SQLUsers {
	if table == "" {
		table = "formprobe_user"
	}
	if resetTable == "" {
		resetTable = "formprobe_reset_code"
	}
	return &SQLUsers{q: q, table: table, resetTable: resetTable, cost: cost}
}

// CheckPassword implements target.Users
func (s *SQLUsers) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT password FROM %s WHERE username = $1", pq.QuoteIdentifier(s.table)),
		username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read password of %q: %w", username, err)
	}
	return PasswordMatches(hash, password), nil
}

// SetActive implements target.Users
func (s *SQLUsers) SetActive(ctx context.Context, username string, active bool) error {
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET is_active = $1 WHERE username = $2", pq.QuoteIdentifier(s.table)),
		active, username)
	if err != nil {
		return fmt.Errorf("failed to update %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	return nil
}

// SetPassword implements target.Users
func (s *SQLUsers) SetPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET password = $1 WHERE username = $2", pq.QuoteIdentifier(s.table)),
		hash, username)
	if err != nil {
		return fmt.Errorf("failed to set password of %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	return nil
}

// ExpireResetCodes implements target.Users
func (s *SQLUsers) ExpireResetCodes(ctx context.Context, username string, age time.Duration) error {
	query := fmt.Sprintf(`UPDATE %s SET created = created - $1::interval
WHERE user_id IN (SELECT id FROM %s WHERE username = $2)`,
		pq.QuoteIdentifier(s.resetTable), pq.QuoteIdentifier(s.table))
	if _, err := s.q.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int64(age/time.Second)), username); err != nil {
		return fmt.Errorf("failed to expire reset codes of %q: %w", username, err)
	}
	return nil
}

// SetAllPasswords gives every account the same password and returns the
// number of accounts changed
func (s *SQLUsers) SetAllPasswords(ctx context.Context, password string) (int64, error) {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET password = $1", pq.QuoteIdentifier(s.table)), hash)
	if err != nil {
		return 0, fmt.Errorf("failed to set passwords: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	log.Info().Int64("users", n).Str("table", s.table).Msg("passwords reset")
	return n, nil
}
