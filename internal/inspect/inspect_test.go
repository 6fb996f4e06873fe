package inspect

import (
	"net/http"
	"testing"

	"github.com/QTest-hq/formprobe/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<!doctype html>
<html><body>
<ul class="messages"><li class="success">Saved.</li><li>Check the list.</li></ul>
<form method="post" enctype="multipart/form-data">
  <input type="hidden" name="csrfmiddlewaretoken" value="abc">
  <ul class="errorlist nonfield"><li>Fill only one of the fields a, b.</li></ul>
  <div data-field="char">
    <input type="text" name="char" value="x">
    <ul class="errorlist"><li>Ensure this value has at most 120 characters (it has 121).</li></ul>
  </div>
  <input type="number" name="count">
  <input type="hidden" name="owner" value="1">
  <input type="text" name="code" readonly>
  <select name="state" disabled><option value="a">A</option></select>
  <textarea name="notes"></textarea>
  <input type="radio" name="kind" value="1"><input type="radio" name="kind" value="2">
  <input type="submit" name="save" value="Save">

  <input type="hidden" name="items-TOTAL_FORMS" value="2">
  <input type="hidden" name="items-INITIAL_FORMS" value="0">
  <div data-prefix="items"><ul class="errorlist nonform"><li>Please submit 1 or fewer forms.</li></ul></div>
  <input type="text" name="items-0-name">
  <div data-field="items-1-name"><input type="text" name="items-1-name"><ul class="errorlist"><li>This field is required.</li></ul></div>
</form>
</body></html>`

func TestHTML_Inspect(t *testing.T) {
	snap, err := NewHTML("").Inspect(&target.Response{StatusCode: 200, Body: []byte(productPage)})
	require.NoError(t, err)

	assert.Equal(t, []string{"char", "count", "owner", "code", "state", "notes", "kind", "items-0-name", "items-1-name"}, snap.AllFields)
	assert.Equal(t, []string{"char", "count", "notes", "kind", "items-0-name", "items-1-name"}, snap.VisibleFields)
	assert.Equal(t, []string{"owner"}, snap.HiddenFields)
	assert.Equal(t, []string{"code", "state"}, snap.DisabledFields)

	assert.Equal(t, map[string][]string{
		"__all__":       {"Fill only one of the fields a, b."},
		"char":          {"Ensure this value has at most 120 characters (it has 121)."},
		"items-__all__": {"Please submit 1 or fewer forms."},
		"items-1-name":  {"This field is required."},
	}, snap.Errors)
	assert.Equal(t, []string{"Saved.", "Check the list."}, snap.Messages)
	assert.True(t, snap.HasErrors())

	require.Len(t, snap.Forms, 2)
	assert.False(t, snap.Forms[0].Formset)
	assert.Contains(t, snap.Forms[0].Fields, "char")
	assert.True(t, snap.Forms[1].Formset)
	assert.Equal(t, "items", snap.Forms[1].Prefix)
	assert.Equal(t, 2, snap.Forms[1].Rows)
	assert.Equal(t, []string{"items-0-name", "items-1-name"}, snap.Forms[1].Fields)
}

func TestHTML_NoErrors(t *testing.T) {
	snap, err := NewHTML("").Inspect(&target.Response{Body: []byte(`<form><input name="a"></form>`)})
	require.NoError(t, err)
	assert.False(t, snap.HasErrors())
	assert.Equal(t, []string{"a"}, snap.VisibleFields)
	assert.Empty(t, snap.Messages)
}

func TestHTML_CustomNonFieldKey(t *testing.T) {
	body := `<ul class="errorlist nonfield"><li>Please enter a correct username and password.</li></ul>`
	snap, err := NewHTML("non_field_errors").Inspect(&target.Response{Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Please enter a correct username and password."}, snap.Errors["non_field_errors"])
}

const productContext = `{
  "forms": [{
    "prefix": "",
    "fields": ["char", "count", "code"],
    "hidden": ["owner"],
    "disabled": ["code"],
    "errors": {"char": ["Too long."], "__all__": ["Nope."]}
  }],
  "formsets": [{
    "prefix": "items",
    "forms": [
      {"fields": ["name"], "errors": {}},
      {"fields": ["name"], "errors": {"name": ["This field is required."]}}
    ],
    "non_form_errors": ["Please submit 1 or fewer forms."]
  }],
  "messages": ["Saved."]
}`

func TestJSON_InspectBody(t *testing.T) {
	snap, err := NewJSON("").Inspect(&target.Response{Body: []byte(productContext)})
	require.NoError(t, err)

	assert.Equal(t, []string{"char", "count", "code", "owner", "items-0-name", "items-1-name"}, snap.AllFields)
	assert.Equal(t, []string{"owner"}, snap.HiddenFields)
	assert.Equal(t, []string{"code"}, snap.DisabledFields)
	assert.Equal(t, []string{"Too long."}, snap.Errors["char"])
	assert.Equal(t, []string{"Nope."}, snap.Errors["__all__"])
	assert.Equal(t, []string{"This field is required."}, snap.Errors["items-1-name"])
	assert.Equal(t, []string{"Please submit 1 or fewer forms."}, snap.Errors["items-__all__"])
	assert.Equal(t, []string{"Saved."}, snap.Messages)

	require.Len(t, snap.Forms, 2)
	assert.Equal(t, 2, snap.Forms[1].Rows)
}

func TestJSON_InspectHeader(t *testing.T) {
	resp := &target.Response{
		Header: http.Header{ContextHeader: []string{`{"forms":[{"fields":["a"]}],"messages":"One."}`}},
		Body:   []byte("<html>ignored</html>"),
	}
	snap, err := NewJSON("").Inspect(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.VisibleFields)
	assert.Equal(t, []string{"One."}, snap.Messages)
}

func TestJSON_Invalid(t *testing.T) {
	_, err := NewJSON("").Inspect(&target.Response{Body: []byte("<html>")})
	assert.Error(t, err)
}

func TestInspect_ListedObjects(t *testing.T) {
	page := `<table><tr data-pk="3"><td>Widget</td></tr><tr data-pk=" 7 "><td>Gadget</td></tr></table>`
	snap, err := NewHTML("").Inspect(&target.Response{StatusCode: 200, Body: []byte(page)})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "7"}, snap.Objects)

	snap, err = NewJSON("").Inspect(&target.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(`{"objects": [3, 7]}`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "7"}, snap.Objects)
}
