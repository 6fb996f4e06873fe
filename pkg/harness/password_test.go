package harness

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/messages"
)

func newTestHarness(t *testing.T) *Harness {
	t.Helper()
	c, err := client.New("http://localhost:1")
	require.NoError(t, err)
	h, err := New(context.Background(), &Suite{Decl: itemDecl(), Client: c, Data: datagen.New(datagen.WithSeed(11))})
	require.NoError(t, err)
	return h
}

func TestInvalidPasswords(t *testing.T) {
	h := newTestHarness(t)

	byName := make(map[string]invalid)
	for _, inv := range h.invalidPasswords() {
		byName[inv.name] = inv
	}

	short := byName["too short"]
	assert.Equal(t, 7, utf8.RuneCountInString(short.password))
	assert.Equal(t, messages.PasswordTooShort, short.expect.Kind)
	assert.Equal(t, 65, utf8.RuneCountInString(byName["too long"].password))

	tests := []struct {
		name  string
		check func(string) bool
	}{
		{"similar to username", func(p string) bool { return strings.HasPrefix(p, username) }},
		{"similar to username at the end", func(p string) bool { return strings.HasSuffix(p, username) }},
		{"similar to username in swapped case", func(p string) bool { return strings.HasPrefix(p, strings.ToUpper(username)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, ok := byName[tt.name]
			require.True(t, ok)
			assert.True(t, tt.check(inv.password), inv.password)
			assert.True(t, h.similar(inv.password))
			assert.Equal(t, messages.WrongPasswordSimilar, inv.expect.Kind)
			assert.Equal(t, "new_password2", inv.expect.Field)
		})
	}
}

func TestInvalidPasswords_SkipsVariantsOverMaxLength(t *testing.T) {
	h := newTestHarness(t)
	h.Suite.Decl.Auth.PasswordMaxLength = 16

	for _, inv := range h.invalidPasswords() {
		assert.NotContains(t, inv.name, "similar", "%s is longer than the max length", inv.password)
	}
}

func TestSwapCase(t *testing.T) {
	assert.Equal(t, "ALICE", swapCase("alice"))
	assert.Equal(t, "aLiCe_9", swapCase("AlIcE_9"))
}

func TestNewPassword(t *testing.T) {
	h := newTestHarness(t)

	p, err := h.newPassword()
	require.NoError(t, err)
	assert.Equal(t, defaultPasswordLength, utf8.RuneCountInString(p))
	assert.False(t, h.similar(p))

	first, second, err := h.newPasswordPair()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPickPassword_GivesUp(t *testing.T) {
	h := newTestHarness(t)
	calls := 0

	_, err := h.pickPassword(func() string {
		calls++
		return "x" + strings.ToUpper(username)
	})
	assert.ErrorContains(t, err, "no acceptable password")
	assert.Equal(t, maxPasswordAttempts, calls)

	_, err = h.pickPassword(func() string { return password })
	assert.Error(t, err)
}
