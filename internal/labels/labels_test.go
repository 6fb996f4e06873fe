package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		label string
		id    string
		want  bool
	}{
		{"product", "product.add.length-max", true},
		{"product.add", "product.add.length-max", true},
		{"product.add", "product.address.x", false},
		{"product.*.length-max", "product.edit.length-max", true},
		{"product.*.length-max", "product.edit.length-min", false},
		{"prod*", "products.add.x", true},
		{"product.ad?", "product.add.x", true},
		{"product.ad?", "product.a.x", false},
		{"a+b", "a+b.add", true},
		{"a+b", "aab.add", false},
	}
	for _, tt := range tests {
		t.Run(tt.label+"~"+tt.id, func(t *testing.T) {
			re, err := Compile(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, re.MatchString(tt.id))
		})
	}

	_, err := Compile("  ")
	assert.Error(t, err)
}

func TestSelector(t *testing.T) {
	ids := []string{
		"product.add.length-max",
		"product.add.required",
		"product.edit.length-max",
		"login.login.wrong-password",
	}

	s, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, s.Filter(ids))

	s, err = New([]string{"product.*.length-max", "login"}, []string{"login.*.wrong-*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"product.add.length-max", "product.edit.length-max"}, s.Filter(ids))
	assert.True(t, s.MustMatch("login.login.wrong-password"))
	assert.False(t, s.MustNotMatch("login.login.wrong-password"))
}

func TestRunPattern(t *testing.T) {
	assert.Equal(t, "^product$/^.*$/^length-max$", RunPattern("", []string{"product.*.length-max"}))
	assert.Equal(t, "^TestForms$/(^product$|^login$)/^add$",
		RunPattern("TestForms", []string{"product.add", "login.add"}))
	assert.Equal(t, "(^product$|^login$)/.*", RunPattern("", []string{"product.add", "login"}))
}
