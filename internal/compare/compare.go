// Package compare checks a persisted record against the parameters that
// were submitted to create or edit it.
package compare

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// randomSuffix matches the suffix storage backends append to clashing file names
var randomSuffix = regexp.MustCompile(`^(.+)_[A-Za-z0-9]{7}(\.[^.]*)?$`)

var rowKey = regexp.MustCompile(`^(.+)-(\d+)-(.+)$`)

var defaultLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	form.DefaultDateTimeFormat,
	"2006-01-02T15:04",
	form.DefaultDateFormat,
}

// Options tune a comparison
type Options struct {
	Exclude     []string
	OtherValues form.Params // expected post-save values that replace the submitted ones
	Layouts     []string    // extra date and datetime input layouts
	Digital     []string    // numeric fields, compared by value even when both sides are text
}

// Mismatch is one differing field
type Mismatch struct {
	Field  string
	Want   string
	Got    string
	Reason string
}

func (m Mismatch) String() string {
	if m.Reason != "" {
		return fmt.Sprintf("%s: %s", m.Field, m.Reason)
	}
	return fmt.Sprintf("%s: form %q != object %q", m.Field, m.Want, m.Got)
}

// MismatchError lists every field whose persisted value differs
type MismatchError struct {
	PK         any
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	lines := make([]string, 0, len(e.Mismatches)+1)
	lines = append(lines, fmt.Sprintf("values from form and object %v are not equal:", e.PK))
	for _, m := range e.Mismatches {
		lines = append(lines, "  "+m.String())
	}
	return strings.Join(lines, "\n")
}

// ObjectFields compares rec with params overlaid by opts.OtherValues.
// Only keys present in the expected map are compared; keys the record
// does not know (repeat passwords, captcha fields) are ignored.
func ObjectFields(rec target.Record, params form.Params, opts Options) error {
	c := comparer{
		exclude: form.NewSet(opts.Exclude...),
		digital: form.NewSet(opts.Digital...),
		layouts: append(append([]string(nil), opts.Layouts...), defaultLayouts...),
	}
	expected := params.Merge(opts.OtherValues)
	c.record("", rec, expected)
	if len(c.mismatches) == 0 {
		return nil
	}
	return &MismatchError{PK: rec.PK, Mismatches: c.mismatches}
}

type comparer struct {
	exclude    form.Set
	digital    form.Set
	layouts    []string
	mismatches []Mismatch
}

func (c *comparer) add(field, want, got, reason string) {
	c.mismatches = append(c.mismatches, Mismatch{Field: field, Want: want, Got: got, Reason: reason})
}

func (c *comparer) record(prefix string, rec target.Record, expected form.Params) {
	rows := make(map[string]map[int]form.Params)
	for key, v := range expected {
		m := rowKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		if _, ok := rec.Related[m[1]]; !ok {
			continue
		}
		idx, _ := strconv.Atoi(m[2])
		if rows[m[1]] == nil {
			rows[m[1]] = make(map[int]form.Params)
		}
		if rows[m[1]][idx] == nil {
			rows[m[1]][idx] = form.Params{}
		}
		rows[m[1]][idx][m[3]] = v
	}
	joinSplit(rec, expected)

	for _, key := range expected.Keys() {
		if c.exclude.Has(key) || rowKey.MatchString(key) {
			continue
		}
		name := prefix + key
		want := expected[key]
		if related, ok := rec.Related[key]; ok {
			c.related(name, want, related)
			continue
		}
		got, ok := rec.Values[key]
		if !ok {
			continue
		}
		if !c.equal(key, want, got) {
			c.add(name, normalise(want, c.layouts), normalise(got, c.layouts), "")
		}
	}

	for _, set := range sortedKeys(rows) {
		related := sortedRecords(rec.Related[set])
		for _, idx := range sortedIndexes(rows[set]) {
			name := fmt.Sprintf("%s%s-%d", prefix, set, idx)
			if idx >= len(related) {
				c.add(name, "", "", "row was not saved")
				continue
			}
			c.record(name+"-", related[idx], rows[set][idx])
		}
	}
}

// related matches a collection against a list of keys or a row count
func (c *comparer) related(name string, want any, got []target.Record) {
	switch w := want.(type) {
	case int, int64:
		n, _ := strconv.Atoi(fmt.Sprint(w))
		if n != len(got) {
			c.add(name, strconv.Itoa(n), strconv.Itoa(len(got)), "")
		}
		return
	}
	wantKeys := form.RenderList(want)
	if len(wantKeys) == 1 && wantKeys[0] == "" {
		wantKeys = nil
	}
	gotKeys := make([]string, 0, len(got))
	for _, r := range got {
		gotKeys = append(gotKeys, fmt.Sprint(r.PK))
	}
	sort.Strings(wantKeys)
	sort.Strings(gotKeys)
	if strings.Join(wantKeys, ",") != strings.Join(gotKeys, ",") {
		c.add(name, strings.Join(wantKeys, ","), strings.Join(gotKeys, ","), "")
	}
}

// joinSplit folds x_0/x_1 pairs into x when the record stores x
func joinSplit(rec target.Record, expected form.Params) {
	for key, first := range expected {
		if !strings.HasSuffix(key, "_0") {
			continue
		}
		base := strings.TrimSuffix(key, "_0")
		second, ok := expected[base+"_1"]
		if !ok {
			continue
		}
		if _, stored := rec.Values[base]; !stored {
			continue
		}
		if _, given := expected[base]; given {
			continue
		}
		expected[base] = strings.TrimSpace(form.Render(first) + " " + form.Render(second))
	}
}

func (c *comparer) equal(key string, want, got any) bool {
	switch w := want.(type) {
	case *form.File:
		return sameFile(w.Name, form.Render(got))
	case []*form.File:
		gotNames := form.RenderList(got)
		if len(gotNames) != len(w) {
			return false
		}
		sort.Strings(gotNames)
		names := make([]string, 0, len(w))
		for _, f := range w {
			names = append(names, f.Name)
		}
		sort.Strings(names)
		for i := range names {
			if !sameFile(names[i], gotNames[i]) {
				return false
			}
		}
		return true
	}
	if isBool(want) || isBool(got) {
		return truthy(want) == truthy(got)
	}
	if wt, ok := asTime(want, c.layouts); ok {
		if gt, ok := asTime(got, c.layouts); ok {
			return wt.Equal(gt)
		}
	}
	if c.digital.Has(key) || isNumber(want) || isNumber(got) {
		if wf, ok := asNumber(want); ok {
			if gf, ok := asNumber(got); ok {
				return wf == gf
			}
		}
	}
	return normalise(want, c.layouts) == normalise(got, c.layouts)
}

// normalise renders a value for comparison and display
func normalise(v any, layouts []string) string {
	switch val := v.(type) {
	case nil, form.Sentinel:
		return ""
	case *form.File:
		return FileName(val.Name)
	case []*form.File:
		names := make([]string, 0, len(val))
		for _, f := range val {
			names = append(names, FileName(f.Name))
		}
		sort.Strings(names)
		return strings.Join(names, ",")
	case target.Record:
		return fmt.Sprint(val.PK)
	case time.Time:
		return canonicalTime(val)
	case []any, []string:
		items := form.RenderList(val)
		sort.Strings(items)
		return strings.Join(items, ",")
	case string:
		if t, ok := asTime(val, layouts); ok {
			return canonicalTime(t)
		}
		if looksLikeFile(val) {
			return FileName(val)
		}
		return val
	}
	return form.Render(v)
}

// FileName strips directories and the random storage suffix from a file name
func FileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if m := randomSuffix.FindStringSubmatch(base); m != nil {
		return m[1] + m[2]
	}
	return base
}

func sameFile(want, got string) bool {
	w := path.Base(want)
	g := path.Base(strings.ReplaceAll(got, "\\", "/"))
	return w == g || w == FileName(g) || FileName(w) == FileName(g)
}

func looksLikeFile(s string) bool {
	return strings.Contains(s, "/") && path.Ext(s) != ""
}

func canonicalTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(form.DefaultDateFormat)
	}
	return t.Format(form.DefaultDateTimeFormat)
}

func asTime(v any, layouts []string) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.Truncate(time.Minute), true
	case string:
		for _, layout := range layouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.Truncate(time.Minute), true
			}
		}
	}
	return time.Time{}, false
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case []byte:
		f, err := strconv.ParseFloat(string(val), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

// isNumber reports whether v holds a number rather than its text
func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil, form.Sentinel:
		return false
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "0", "false", "off", "no", "f":
			return false
		}
		return true
	}
	if f, ok := asNumber(v); ok {
		return f != 0
	}
	return !form.IsEmpty(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIndexes(m map[int]form.Params) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func sortedRecords(recs []target.Record) []target.Record {
	out := append([]target.Record(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := asNumber(out[i].PK)
		b, bok := asNumber(out[j].PK)
		if aok && bok {
			return a < b
		}
		return fmt.Sprint(out[i].PK) < fmt.Sprint(out[j].PK)
	})
	return out
}
