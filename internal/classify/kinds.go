package classify

import (
	"slices"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// classify assigns exactly one kind, by priority
// file > choice > foreign > digital > email > date > bool > string.
func (b *builder) classify(name string, eff form.FormDecl, defaults form.Params) form.Field {
	col, hasCol := b.schema[name]
	f := form.Field{Name: name}
	value, hasValue := defaults[name]

	switch {
	case b.isFile(name, eff, col, hasCol):
		f.Kind = form.KindFile
		f.File = fileParams(eff.FileFieldsParams[name])
	case slices.Contains(eff.MultiselectFields, name):
		f.Kind = form.KindMultiselect
		f.Values = b.choices(name, col)
	case slices.Contains(eff.ChoiceFields, name) || slices.Contains(eff.ChoiceFieldsWithValueInError, name) ||
		(hasCol && (col.Kind == target.FieldChoice || len(col.Choices) > 0)):
		f.Kind = form.KindChoice
		f.Values = b.choices(name, col)
		f.ValueInError = slices.Contains(eff.ChoiceFieldsWithValueInError, name)
	case hasCol && col.Kind == target.FieldRelated:
		f.Kind = form.KindForeign
		f.Target = col.Target
	case b.isDigital(name, eff, col, hasCol, value, hasValue):
		f.Kind = form.KindFloat
		if b.isInt(name, eff, col, hasCol, value) {
			f.Kind = form.KindInt
		}
		f.Range = b.numericRange(name, col, hasCol)
	case slices.Contains(eff.EmailFields, name):
		f.Kind = form.KindEmail
		b.textBounds(&f, name, col, hasCol)
	case b.isDateTime(name, col, hasCol):
		f.Kind = form.KindDateTime
	case b.isDate(name, col, hasCol):
		f.Kind = form.KindDate
	case (hasCol && col.Kind == target.FieldBool) || isBool(value):
		f.Kind = form.KindBool
	default:
		f.Kind = form.KindString
		b.textBounds(&f, name, col, hasCol)
		f.CaseSensitive = slices.Contains(b.decl.UniqueWithCase, name)
	}
	return f
}

func (b *builder) isFile(name string, eff form.FormDecl, col target.FieldSchema, hasCol bool) bool {
	if _, ok := eff.FileFieldsParams[name]; ok {
		return true
	}
	return hasCol && (col.Kind == target.FieldFile || col.Kind == target.FieldImage)
}

func (b *builder) isDigital(name string, eff form.FormDecl, col target.FieldSchema, hasCol bool, value any, hasValue bool) bool {
	if slices.Contains(eff.DigitalFields, name) || slices.Contains(eff.IntFields, name) {
		return true
	}
	if hasCol {
		switch col.Kind {
		case target.FieldInt, target.FieldFloat, target.FieldDecimal:
			return true
		}
		return false
	}
	if _, ok := b.decl.MinValues[name]; ok {
		return true
	}
	if _, ok := b.decl.MaxValues[name]; ok {
		return true
	}
	return hasValue && isNumeric(value)
}

func (b *builder) isInt(name string, eff form.FormDecl, col target.FieldSchema, hasCol bool, value any) bool {
	if slices.Contains(eff.IntFields, name) {
		return true
	}
	if hasCol {
		return col.Kind == target.FieldInt
	}
	if slices.Contains(eff.DigitalFields, name) {
		return false
	}
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return isWholeNumber(v)
	}
	return false
}

func (b *builder) numericRange(name string, col target.FieldSchema, hasCol bool) form.Range {
	var r form.Range
	if v, ok := b.decl.MinValues[name]; ok {
		r.Min, r.HasMin = v, true
	} else if hasCol && col.Min != nil {
		r.Min, r.HasMin = *col.Min, true
	}
	if v, ok := b.decl.MaxValues[name]; ok {
		r.Max, r.HasMax = v, true
	} else if hasCol && col.Max != nil {
		r.Max, r.HasMax = *col.Max, true
	}
	return r
}

func (b *builder) isDateTime(name string, col target.FieldSchema, hasCol bool) bool {
	if slices.Contains(b.decl.DateTimeFields, name) {
		return true
	}
	return hasCol && col.Kind == target.FieldDateTime
}

func (b *builder) isDate(name string, col target.FieldSchema, hasCol bool) bool {
	if slices.Contains(b.decl.DateFields, name) {
		return true
	}
	if hasCol {
		return col.Kind == target.FieldDate
	}
	return strings.Contains(strings.ToLower(name), "date")
}

// textBounds sets length bounds from the declaration, the schema, and for
// localised fields (name_<lang>) from the base field.
func (b *builder) textBounds(f *form.Field, name string, col target.FieldSchema, hasCol bool) {
	lookup := func(n string) {
		if f.MaxLength == 0 {
			if v, ok := b.decl.MaxFieldsLength[n]; ok {
				f.MaxLength = v
			} else if c, ok := b.schema[n]; ok && c.MaxLength > 0 {
				f.MaxLength = c.MaxLength
			}
		}
		if f.MinLength == 0 {
			f.MinLength = b.decl.MinFieldsLength[n]
		}
	}
	lookup(name)
	if base, ok := b.localisedBase(name); ok {
		f.Localised = true
		lookup(base)
	}
	if f.MaxLength == 0 && hasCol {
		f.MaxLength = col.MaxLength
	}
}

func (b *builder) localisedBase(name string) (string, bool) {
	for _, lang := range b.decl.Languages {
		suffix := "_" + strings.ToLower(lang)
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
			return base, true
		}
	}
	return "", false
}

func (b *builder) choices(name string, col target.FieldSchema) []any {
	if values, ok := b.decl.ChoiceFieldsValues[name]; ok {
		return values
	}
	return col.Choices
}

func fileParams(p form.FileParams) form.FileParams {
	if p.MaxCount <= 0 {
		p.MaxCount = 1
	}
	exts := make([]string, len(p.Extensions))
	for i, ext := range p.Extensions {
		exts[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	p.Extensions = exts
	return p
}

func isNumeric(v any) bool {
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
