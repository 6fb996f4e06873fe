// Package classify resolves a sparse form declaration, optionally combined
// with the backing entity's schema, into a typed FieldModel.
package classify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// InvariantError lists every declaration problem found while building the model
type InvariantError struct {
	Problems []string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invalid form declaration: %s", strings.Join(e.Problems, "; "))
}

type builder struct {
	decl     form.Declaration
	schema   map[string]target.FieldSchema
	problems []string
}

// Build derives the FieldModel. The result is immutable by convention:
// callers clone Defaults before mutating them.
func Build(decl form.Declaration, schema []target.FieldSchema) (*form.FieldModel, error) {
	b := &builder{decl: decl, schema: make(map[string]target.FieldSchema, len(schema))}
	for _, col := range schema {
		b.schema[col.Name] = col
	}

	m := &form.FieldModel{
		Name:            decl.Name,
		VerboseName:     decl.VerboseName,
		Intervals:       decl.Intervals,
		MaxBlocks:       decl.MaxBlocks,
		OtherValues:     decl.OtherValuesForCheck.Clone(),
		VerboseNames:    decl.FieldVerboseNames,
		Languages:       decl.Languages,
		NullCheck:       decl.NullCheck,
		NonFieldKey:     decl.NonFieldKey,
		DateFormats:     decl.DateInputFormats,
		DateTimeFormats: decl.DateTimeInputFormats,
	}
	if m.NonFieldKey == "" {
		m.NonFieldKey = form.DefaultNonFieldKey
	}

	b.checkLengths()
	m.Add = b.view(form.ModeAdd, m.NonFieldKey)
	m.Edit = b.view(form.ModeEdit, m.NonFieldKey)
	b.checkIntervals()

	if len(b.problems) > 0 {
		return nil, &InvariantError{Problems: b.problems}
	}
	return m, nil
}

func (b *builder) fail(format string, args ...any) {
	b.problems = append(b.problems, fmt.Sprintf(format, args...))
}

func (b *builder) view(mode form.Mode, nonFieldKey string) *form.View {
	eff := b.decl.Effective(mode)
	v := &form.View{
		Mode:             mode,
		Defaults:         eff.DefaultParams.Clone(),
		Fields:           make(map[string]form.Field),
		Required:         form.NewSet(eff.RequiredFields...),
		RequiredRelated:  eff.RequiredRelatedFields,
		Hidden:           form.NewSet(eff.HiddenFields...),
		Disabled:         form.NewSet(eff.DisabledFields...),
		AllUnique:        make(map[string]string),
		OneOf:            eff.OneOfFields,
		RequiredIf:       eff.RequiredIf,
		ExcludeFromCheck: form.NewSet(eff.ExcludeFromCheck...),
	}

	v.All = allFields(eff)
	all := form.NewSet(v.All...)
	for _, name := range v.All {
		v.Fields[name] = b.classify(name, eff, v.Defaults)
	}
	for _, name := range append(eff.HiddenFields, eff.DisabledFields...) {
		if _, ok := v.Fields[name]; !ok {
			v.Fields[name] = b.classify(name, eff, v.Defaults)
		}
	}

	b.requireIn(mode, "required_fields", all, eff.RequiredFields)
	for _, g := range eff.RequiredRelatedFields {
		b.requireIn(mode, "required_related_fields", all, g)
	}
	for _, g := range eff.OneOfFields {
		b.requireIn(mode, "one_of_fields", all, g)
	}
	for _, d := range eff.RequiredIf {
		b.requireIn(mode, "required_if", all, d.Leads)
		b.requireIn(mode, "required_if", all, d.Dependents)
	}

	explicit := len(b.section(mode).UniqueFields) > 0
	for _, group := range eff.UniqueFields {
		ug := uniqueGroup(group, nonFieldKey)
		if len(ug.Fields) == 0 {
			b.fail("%s: empty unique group", mode)
			continue
		}
		if !containsAll(all, ug.Fields) {
			if explicit {
				b.requireIn(mode, "unique_fields", all, ug.Fields)
			}
			continue
		}
		v.Unique = append(v.Unique, ug)
		if ug.ErrorKey == nonFieldKey {
			v.AllUnique[form.GroupKey(ug.Fields)] = nonFieldKey
		}
	}

	if len(eff.RequiredFields) == 0 {
		b.schemaRequired(v)
	}
	if len(eff.UniqueFields) == 0 {
		b.schemaUnique(v)
	}

	v.DependOneOf = dependOneOf(eff.OneOfFields)
	b.checkFields(mode, v)
	return v
}

// schemaRequired marks the visible fields backed by a NOT NULL column.
// Booleans and keys are left out: an unchecked box still stores a value.
func (b *builder) schemaRequired(v *form.View) {
	for _, name := range v.All {
		col, ok := b.schema[name]
		if !ok || !col.Required || col.PK || col.Kind == target.FieldBool || !v.Visible(name) {
			continue
		}
		v.Required.Add(name)
	}
}

// schemaUnique adds a single-field group per unique column on the form
func (b *builder) schemaUnique(v *form.View) {
	for _, name := range v.All {
		col, ok := b.schema[name]
		if !ok || !col.Unique || col.PK {
			continue
		}
		v.Unique = append(v.Unique, form.UniqueGroup{Fields: []string{name}, ErrorKey: name})
	}
}

func (b *builder) section(mode form.Mode) form.FormDecl {
	if mode == form.ModeEdit {
		return b.decl.Edit
	}
	return b.decl.Add
}

func (b *builder) requireIn(mode form.Mode, attr string, all form.Set, names []string) {
	for _, n := range names {
		if !all.Has(n) {
			b.fail("%s: %s references %q which is not on the form", mode, attr, n)
		}
	}
}

// inlineKey matches formset row fields and management inputs
var inlineKey = regexp.MustCompile(`^.+-(\d+-.+|TOTAL_FORMS|INITIAL_FORMS|MIN_NUM_FORMS|MAX_NUM_FORMS)$`)

// allFields returns the declared field list, or the default keys with
// split widgets (x_0, x_1) collapsed into x. Inline rows are not form fields.
func allFields(eff form.FormDecl) []string {
	names := eff.AllFields
	if len(names) == 0 {
		for _, key := range eff.DefaultParams.Keys() {
			if !inlineKey.MatchString(key) {
				names = append(names, key)
			}
		}
	}
	present := form.NewSet(names...)
	seen := make(form.Set, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		base := form.BaseName(n)
		if base == n || !present.Has(base+"_0") || !present.Has(base+"_1") {
			base = n
		}
		if seen.Has(base) {
			continue
		}
		seen.Add(base)
		out = append(out, base)
	}
	return out
}

func uniqueGroup(group []string, nonFieldKey string) form.UniqueGroup {
	if len(group) > 0 && group[0] == nonFieldKey {
		return form.UniqueGroup{Fields: append([]string(nil), group[1:]...), ErrorKey: nonFieldKey}
	}
	if len(group) == 0 {
		return form.UniqueGroup{}
	}
	return form.UniqueGroup{Fields: append([]string(nil), group...), ErrorKey: group[0]}
}

func dependOneOf(groups [][]string) map[string][]string {
	deps := make(map[string]form.Set)
	for _, g := range groups {
		for _, f := range g {
			if deps[f] == nil {
				deps[f] = make(form.Set)
			}
			for _, other := range g {
				if other != f {
					deps[f].Add(other)
				}
			}
		}
	}
	out := make(map[string][]string, len(deps))
	for f, set := range deps {
		out[f] = set.Sorted()
	}
	return out
}

func containsAll(set form.Set, names []string) bool {
	for _, n := range names {
		if !set.Has(n) {
			return false
		}
	}
	return true
}

func (b *builder) checkLengths() {
	for _, name := range sortedKeys(b.decl.MaxFieldsLength) {
		if b.decl.MaxFieldsLength[name] <= 0 {
			b.fail("max_fields_length[%s] must be positive", name)
		}
	}
	for _, name := range sortedKeys(b.decl.MinFieldsLength) {
		minLen := b.decl.MinFieldsLength[name]
		if minLen <= 0 {
			b.fail("min_fields_length[%s] must be positive", name)
		}
		if maxLen, ok := b.decl.MaxFieldsLength[name]; ok && maxLen > 0 && minLen > maxLen {
			b.fail("min_fields_length[%s]=%d exceeds max_fields_length %d", name, minLen, maxLen)
		}
	}
}

func (b *builder) checkFields(mode form.Mode, v *form.View) {
	for _, name := range v.All {
		f := v.Fields[name]
		if f.IsDigital() && f.Range.Empty() {
			b.fail("%s: %s has an empty range [%v, %v]", mode, name, f.Range.Min, f.Range.Max)
		}
	}
	for _, name := range b.decl.UniqueWithCase {
		if f, ok := v.Fields[name]; ok && !f.IsText() {
			b.fail("%s: unique_with_case field %q is %s, not a string", mode, name, f.Kind)
		}
	}
}

func (b *builder) checkIntervals() {
	for _, iv := range b.decl.Intervals {
		if iv.Op != ">" && iv.Op != ">=" {
			b.fail("interval %s..%s: comparator %q must be > or >=", iv.Start, iv.End, iv.Op)
		}
		if iv.Start == "" || iv.End == "" {
			b.fail("interval needs both start and end fields")
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isWholeNumber(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}
