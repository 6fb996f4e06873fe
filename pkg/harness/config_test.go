package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/pkg/target"
)

func TestCheck_SchemaBounds(t *testing.T) {
	c, err := client.New("http://localhost:1")
	require.NoError(t, err)
	decl := itemDecl()
	decl.MaxFieldsLength = nil
	s := &Suite{
		Decl:   decl,
		Client: c,
		Schema: []target.FieldSchema{
			{Name: "id", Kind: target.FieldInt, PK: true},
			{Name: "name", Kind: target.FieldString, MaxLength: 40},
			{Name: "email", Kind: target.FieldString},
			{Name: "count", Kind: target.FieldInt},
		},
	}

	planned, err := Check(context.Background(), s, AddNegative)
	require.NoError(t, err)
	for _, p := range planned {
		if p.ID == "item.add_negative.max_length" {
			assert.Empty(t, p.Skip)
			return
		}
	}
	t.Fatal("max_length not planned")
}

func TestFromConfig(t *testing.T) {
	file := config.DefaultSuiteFile()
	file.Include = []string{"item.add_*.*"}
	file.ErrorMessages = map[string]string{"required": "Fill it in."}
	sc := config.SuiteConfig{
		Form:  itemDecl(),
		Flows: []string{"add-positive", "add_negative"},
		Gates: []string{"url_add"},
	}

	s, flows, err := FromConfig(file, sc)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, FlowAddPositive, flows[0].Name)
	assert.Equal(t, FlowAddNegative, flows[1].Name)
	assert.Equal(t, file.NonFieldKey, s.Decl.NonFieldKey)
	assert.Len(t, s.Gates, 1)
	assert.True(t, s.Labels.Match("item.add_positive.required"))
	assert.False(t, s.Labels.Match("item.edit_positive.required"))
}

func TestFromConfig_UnknownFlow(t *testing.T) {
	_, _, err := FromConfig(config.DefaultSuiteFile(), config.SuiteConfig{Form: itemDecl(), Flows: []string{"teleport"}})
	assert.ErrorContains(t, err, "teleport")
}

func TestFromConfig_AllFlows(t *testing.T) {
	_, flows, err := FromConfig(config.DefaultSuiteFile(), config.SuiteConfig{Form: itemDecl()})
	require.NoError(t, err)
	assert.Len(t, flows, len(Flows))
}

func TestCheck(t *testing.T) {
	c, err := client.New("http://localhost:1")
	require.NoError(t, err)
	s := &Suite{Decl: itemDecl(), Client: c}

	planned, err := Check(context.Background(), s, AddPositive, AddNegative, LoginPositive)
	require.NoError(t, err)

	byID := make(map[string]string, len(planned))
	for _, p := range planned {
		byID[p.ID] = p.Skip
	}
	assert.Empty(t, byID["item.add_positive.default_params"])
	assert.Empty(t, byID["item.add_positive.all_fields_max"])
	assert.Contains(t, byID["item.add_positive.min_length"], "no text field has a min length")
	assert.Empty(t, byID["item.add_positive.digital_range"])
	assert.Empty(t, byID["item.add_negative.digital_range"])
	assert.Empty(t, byID["item.add_negative.max_length"])
	assert.Contains(t, byID["item.add_negative.unique"], "no entity")
	assert.Contains(t, byID["item.add_positive.one_of"], "no one-of groups")
	assert.Contains(t, byID["item.login_positive.login_logout"], "no user directory")
}
