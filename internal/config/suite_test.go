package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/pkg/form"
)

const suiteYAML = `version: "1.0"
base_url: http://localhost:9000
error_messages:
  required: "Please fill in this field."
include: ["product.*"]
suites:
  - form:
      name: product
      verbose_name: Product
      url_add: /product/add/
      url_edit: /product/{pk}/edit/
      all_fields: [name, count, email]
      default_params:
        name: Widget
        count: 3
      required_fields: [name]
      email_fields: [email]
      max_fields_length:
        name: 120
      unique_fields: [[email]]
      edit:
        disabled_fields: [count]
      intervals:
        - {start: starts, end: ends, op: ">"}
      captcha:
        provider: simple
    flows: [add-positive, add-negative]
    gates: [url_add]
    table: formprobe_item
    fixtures: [testdata/items.yaml]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultSuiteFile(t *testing.T) {
	cfg := DefaultSuiteFile()

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, form.DefaultNonFieldKey, cfg.NonFieldKey)
	assert.Empty(t, cfg.Suites)
}

func TestLoadSuiteFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "formprobe.yaml", suiteYAML)

	cfg, err := LoadSuiteFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, form.DefaultNonFieldKey, cfg.NonFieldKey, "defaults survive unset keys")
	assert.Equal(t, "Please fill in this field.", cfg.ErrorMessages["required"])
	require.Len(t, cfg.Suites, 1)

	s := cfg.Suites[0]
	assert.Equal(t, "product", s.Name())
	assert.Equal(t, []string{"add-positive", "add-negative"}, s.Flows)
	assert.Equal(t, "formprobe_item", s.Table)

	decl := s.Form
	assert.Equal(t, "/product/{pk}/edit/", decl.URLEdit)
	assert.Equal(t, []string{"name", "count", "email"}, decl.AllFields)
	assert.Equal(t, "Widget", decl.DefaultParams["name"])
	assert.Equal(t, 3, decl.DefaultParams["count"])
	assert.Equal(t, 120, decl.MaxFieldsLength["name"])
	assert.Equal(t, [][]string{{"email"}}, decl.UniqueFields)
	assert.Equal(t, []string{"count"}, decl.Edit.DisabledFields)
	assert.Equal(t, []form.Interval{{Start: "starts", End: "ends", Op: ">"}}, decl.Intervals)
	assert.True(t, decl.Captcha.Enabled())
}

func TestLoadSuiteFile_FallsBackToYml(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "formprobe.yml", "version: \"2.0\"\n")

	cfg, err := LoadSuiteFile(filepath.Join(dir, "formprobe.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "2.0", cfg.Version)
}

func TestLoadSuiteFile_Missing(t *testing.T) {
	cfg, err := LoadSuiteFile(filepath.Join(t.TempDir(), "formprobe.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSuiteFile(), cfg)
}

func TestLoadSuiteFile_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "formprobe.yaml", "suites: [unclosed")

	_, err := LoadSuiteFile(path)
	assert.Error(t, err)
}

func TestSaveSuiteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formprobe.yaml")
	cfg := DefaultSuiteFile()
	cfg.Suites = []SuiteConfig{{
		Form:  form.Declaration{Name: "login", Auth: form.AuthDecl{LoginURL: "/login/", LoginRetries: 3}},
		Flows: []string{"login-positive"},
	}}

	require.NoError(t, SaveSuiteFile(path, cfg))
	loaded, err := LoadSuiteFile(path)
	require.NoError(t, err)

	s, ok := loaded.Suite("login")
	require.True(t, ok)
	assert.Equal(t, "/login/", s.Form.Auth.LoginURL)
	assert.Equal(t, 3, s.Form.Auth.LoginRetries)
	_, ok = loaded.Suite("missing")
	assert.False(t, ok)
}

func TestSuiteFile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		suites  []string
		wantErr bool
	}{
		{"unique names", []string{"product", "login"}, false},
		{"empty name", []string{""}, true},
		{"dotted name", []string{"shop.product"}, true},
		{"duplicate", []string{"product", "product"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSuiteFile()
			for _, name := range tt.suites {
				cfg.Suites = append(cfg.Suites, SuiteConfig{Form: form.Declaration{Name: name}})
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSuiteFile_Merge(t *testing.T) {
	cfg := DefaultSuiteFile()
	cfg.ErrorMessages = map[string]string{"required": "Required."}
	cfg.Suites = []SuiteConfig{
		{Form: form.Declaration{Name: "product", URLAdd: "/old/"}},
		{Form: form.Declaration{Name: "login"}},
	}

	cfg.Merge(&SuiteFile{
		BaseURL:       "http://override",
		ErrorMessages: map[string]string{"unique": "Taken."},
		Exclude:       []string{"login.*"},
		Suites: []SuiteConfig{
			{Form: form.Declaration{Name: "product", URLAdd: "/new/"}},
			{Form: form.Declaration{Name: "order"}},
		},
	})

	assert.Equal(t, "http://override", cfg.BaseURL)
	assert.Equal(t, form.DefaultNonFieldKey, cfg.NonFieldKey)
	assert.Equal(t, map[string]string{"required": "Required.", "unique": "Taken."}, cfg.ErrorMessages)
	assert.Equal(t, []string{"login.*"}, cfg.Exclude)
	require.Len(t, cfg.Suites, 3)
	assert.Equal(t, "/new/", cfg.Suites[0].Form.URLAdd)
	assert.Equal(t, "order", cfg.Suites[2].Name())

	cfg.Merge(nil)
	assert.Len(t, cfg.Suites, 3)
}

func TestFixture_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.yaml")
	fx := &Fixture{Table: "formprobe_item", Rows: []map[string]any{{"name": "Ünïcode", "count": 2}}}

	require.NoError(t, SaveFixture(path, fx))
	loaded, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, fx, loaded)

	bad := writeFile(t, t.TempDir(), "bad.yaml", "rows: []\n")
	_, err = LoadFixture(bad)
	assert.Error(t, err)
}
