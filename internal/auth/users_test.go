package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMemoryUsers_Authenticate(t *testing.T) {
	users := NewMemoryUsers(bcrypt.MinCost)
	_, err := users.Add("alice", "Alice@example.com", "s3cret")
	require.NoError(t, err)
	_, err = users.Add("alice", "", "x")
	assert.Error(t, err)

	u, err := users.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)

	_, err = users.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, err = users.Authenticate("bob", "s3cret")
	assert.ErrorIs(t, err, ErrUserNotFound)

	ctx := context.Background()
	require.NoError(t, users.SetActive(ctx, "alice", false))
	_, err = users.Authenticate("alice", "s3cret")
	assert.ErrorIs(t, err, ErrInactive)

	found, err := users.ByEmail("alice@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
}

func TestMemoryUsers_CheckPassword(t *testing.T) {
	users := NewMemoryUsers(bcrypt.MinCost)
	_, err := users.Add("alice", "", "old")
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := users.CheckPassword(ctx, "alice", "old")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, users.SetPassword(ctx, "alice", "new"))
	ok, _ = users.CheckPassword(ctx, "alice", "old")
	assert.False(t, ok)
	ok, _ = users.CheckPassword(ctx, "alice", "new")
	assert.True(t, ok)

	_, err = users.CheckPassword(ctx, "bob", "x")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUsers_ResetCodes(t *testing.T) {
	users := NewMemoryUsers(bcrypt.MinCost)
	_, err := users.Add("alice", "a@example.com", "old")
	require.NoError(t, err)
	ctx := context.Background()

	code, err := users.IssueResetCode("alice")
	require.NoError(t, err)
	other, err := users.IssueResetCode("alice")
	require.NoError(t, err)

	u, err := users.CheckResetCode(code, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	require.NoError(t, users.ExpireResetCodes(ctx, "alice", 2*time.Hour))
	_, err = users.CheckResetCode(code, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCode)

	fresh, err := users.IssueResetCode("alice")
	require.NoError(t, err)
	require.NoError(t, users.RedeemResetCode(fresh, "new", time.Hour))
	ok, _ := users.CheckPassword(ctx, "alice", "new")
	assert.True(t, ok)

	_, err = users.CheckResetCode(other, 24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCode, "redeeming burns every code of the user")
	assert.ErrorIs(t, users.RedeemResetCode(fresh, "again", time.Hour), ErrInvalidCode)
}

func newUsersMock(t *testing.T) (*SQLUsers, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return NewSQLUsers(conn, "", "", bcrypt.MinCost), mock
}

func TestSQLUsers_CheckPassword(t *testing.T) {
	users, mock := newUsersMock(t)
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT password FROM "formprobe_user" WHERE username = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"password"}).AddRow(hash))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT password FROM "formprobe_user" WHERE username = $1`)).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"password"}))

	ok, err := users.CheckPassword(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = users.CheckPassword(context.Background(), "bob", "s3cret")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLUsers_SetActive(t *testing.T) {
	users, mock := newUsersMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_user" SET is_active = $1 WHERE username = $2`)).
		WithArgs(false, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_user" SET is_active = $1 WHERE username = $2`)).
		WithArgs(true, "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, users.SetActive(context.Background(), "alice", false))
	assert.ErrorIs(t, users.SetActive(context.Background(), "bob", true), ErrUserNotFound)
}

func TestSQLUsers_ExpireResetCodes(t *testing.T) {
	users, mock := newUsersMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_reset_code" SET created = created - $1::interval`)).
		WithArgs("86400 seconds", "alice").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, users.ExpireResetCodes(context.Background(), "alice", 24*time.Hour))
}

func TestSQLUsers_SetPassword(t *testing.T) {
	users, mock := newUsersMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_user" SET password = $1 WHERE username = $2`)).
		WithArgs(sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_user" SET password = $1 WHERE username = $2`)).
		WithArgs(sqlmock.AnyArg(), "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, users.SetPassword(context.Background(), "alice", "new"))
	assert.ErrorIs(t, users.SetPassword(context.Background(), "bob", "new"), ErrUserNotFound)
}

func TestSQLUsers_SetAllPasswords(t *testing.T) {
	users, mock := newUsersMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "formprobe_user" SET password = $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := users.SetAllPasswords(context.Background(), "pass")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
