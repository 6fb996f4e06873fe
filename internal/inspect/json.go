package inspect

import (
	"fmt"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
	"github.com/tidwall/gjson"
)

// JSON inspects a form context document of the shape
//
//	{"forms": [{"prefix": "", "fields": [], "hidden": [], "disabled": [], "errors": {}}],
//	 "formsets": [{"prefix": "items", "forms": [...], "non_form_errors": []}],
//	 "messages": [], "objects": []}
//
// read from the X-Form-Context header, or from the body when the header is absent.
// Formset row fields and errors are reported as prefix-index-field.
type JSON struct {
	NonFieldKey string
}

var _ target.Inspector = (*JSON)(nil)

// NewJSON creates a JSON context inspector
func NewJSON(nonFieldKey string) *JSON {
	if nonFieldKey == "" {
		nonFieldKey = form.DefaultNonFieldKey
	}
	return &JSON{NonFieldKey: nonFieldKey}
}

// Inspect reads the context document
func (j *JSON) Inspect(resp *target.Response) (*target.Snapshot, error) {
	raw := resp.Header.Get(ContextHeader)
	if raw == "" {
		raw = string(resp.Body)
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("response has no valid json form context")
	}
	doc := gjson.Parse(raw)
	c := newCollector(nil)

	doc.Get("forms").ForEach(func(_, f gjson.Result) bool {
		info := j.form(c, f, f.Get("prefix").String(), -1)
		c.snap.Forms = append(c.snap.Forms, info)
		return true
	})

	doc.Get("formsets").ForEach(func(_, fs gjson.Result) bool {
		prefix := fs.Get("prefix").String()
		set := target.FormInfo{Prefix: prefix, Formset: true}
		idx := 0
		fs.Get("forms").ForEach(func(_, row gjson.Result) bool {
			info := j.form(c, row, prefix, idx)
			set.Fields = append(set.Fields, info.Fields...)
			set.Hidden = append(set.Hidden, info.Hidden...)
			set.Disabled = append(set.Disabled, info.Disabled...)
			idx++
			return true
		})
		set.Rows = idx
		c.errors(FormsetKey(prefix, j.NonFieldKey), stringList(fs.Get("non_form_errors"))...)
		c.snap.Forms = append(c.snap.Forms, set)
		return true
	})

	for _, msg := range stringList(doc.Get("messages")) {
		c.message(msg)
	}
	for _, pk := range stringList(doc.Get("objects")) {
		c.object(pk)
	}
	return c.result(), nil
}

// form records one form; index >= 0 marks a formset row
func (j *JSON) form(c *collector, f gjson.Result, prefix string, index int) target.FormInfo {
	name := func(field string) string {
		if index >= 0 {
			return RowKey(prefix, index, field)
		}
		return field
	}
	info := target.FormInfo{Prefix: prefix}
	hidden := form.NewSet(stringList(f.Get("hidden"))...)
	disabled := form.NewSet(stringList(f.Get("disabled"))...)

	fields := stringList(f.Get("fields"))
	fields = append(fields, hidden.Sorted()...)
	for _, field := range fields {
		full := name(field)
		if contains(info.Fields, full) {
			continue
		}
		info.Fields = append(info.Fields, full)
		c.field(full, hidden.Has(field), disabled.Has(field))
		if hidden.Has(field) {
			info.Hidden = append(info.Hidden, full)
		}
		if disabled.Has(field) {
			info.Disabled = append(info.Disabled, full)
		}
	}

	f.Get("errors").ForEach(func(key, msgs gjson.Result) bool {
		c.errors(name(key.String()), stringList(msgs)...)
		return true
	})
	return info
}

func stringList(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		return []string{r.String()}
	}
	var out []string
	for _, item := range r.Array() {
		out = append(out, item.String())
	}
	return out
}
