package messages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Default(t *testing.T) {
	c := New(nil, nil, "")

	got, err := c.Resolve(MaxLength, "char", Locals{"length": 120, "current_length": 121})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"char": {"Ensure this value has at most 120 characters (it has 121)."},
	}, got)
}

func TestResolve_Order(t *testing.T) {
	custom := map[string]map[string][]string{
		"email": {"unique": {"Email taken.", "Try another one."}},
	}
	project := map[string]string{
		"unique":   "Duplicate {{.verbose_field}}.",
		"required": "Fill it in.",
	}
	c := New(custom, project, "")
	locals := Locals{"verbose_obj": "User", "verbose_field": "email"}

	tests := []struct {
		name  string
		kind  Kind
		field string
		want  []string
	}{
		{"field override wins", Unique, "email", []string{"Email taken.", "Try another one."}},
		{"project-wide next", Unique, "login", []string{"Duplicate email."}},
		{"project-wide without locals", Required, "login", []string{"Fill it in."}},
		{"built-in last", WrongValueEmail, "email", []string{"Enter a valid email address."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Messages(tt.kind, tt.field, locals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NonFieldKey(t *testing.T) {
	c := New(nil, nil, "non_field_errors")
	got, err := c.Resolve(WrongLogin, "", nil)
	require.NoError(t, err)
	assert.Contains(t, got, "non_field_errors")
	assert.Equal(t, "non_field_errors", c.NonFieldKey())

	def := New(nil, nil, "")
	assert.Equal(t, "__all__", def.NonFieldKey())
}

func TestResolve_UnknownKind(t *testing.T) {
	c := New(nil, nil, "")
	_, err := c.Resolve(Kind("no_such_kind"), "x", nil)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("error = %v, want ErrUnknownKind", err)
	}
	assert.Contains(t, err.Error(), "unknown message-kind")
}

func TestResolve_MissingLocal(t *testing.T) {
	c := New(nil, nil, "")

	_, err := c.Resolve(MaxLength, "char", Locals{"length": 5})
	assert.ErrorIs(t, err, ErrMissingLocal)
	assert.Contains(t, err.Error(), "current_length")
}

func TestResolve_CustomTemplateMissingLocal(t *testing.T) {
	custom := map[string]map[string][]string{
		"char": {"required": {"{{.nope}} is required"}},
	}
	c := New(custom, nil, "")
	_, err := c.Resolve(Required, "char", Locals{})
	assert.ErrorIs(t, err, ErrMissingLocal)
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Contains(t, kinds, NotExist)
	assert.Contains(t, kinds, WrongInterval)
	for _, k := range kinds {
		_, err := New(nil, nil, "").Templates(k, "f")
		assert.NoError(t, err, k)
	}
}
