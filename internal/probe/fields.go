package probe

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/QTest-hq/formprobe/internal/compare"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// Values submitted to choice fields that no choice set contains
var wrongChoices = []string{"qwe", "12345678", "йцукен"}

// Strings no numeric field accepts
var wrongDigits = []string{"qwe", "1.2.3", "NaN", "inf", "-inf"}

// Addresses an email field must reject
var wrongEmails = []string{
	"qwe",
	"qwe@",
	"@qwe.com",
	"qwe@qwe",
	"qwe@@qwe.com",
	"qwe qwe@qwe.com",
	"qwe@qwe..com",
	".qwe@qwe.com",
}

// AllFieldsMax fills every bounded text field with its maximum length at
// once. Its fallback holds the same probe per field, run only when the
// combined submission fails.
func (g *Generator) AllFieldsMax() []Probe {
	var fields []form.Field
	for _, f := range g.visible(form.KindString, form.KindEmail) {
		if f.MaxLength > 0 {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return nil
	}

	all := g.positive(FamilyAllFieldsMax, "", "all fields filled to max length", func(p form.Params) error {
		filled := form.NewSet()
		for _, f := range fields {
			if g.antagonised(f.Name, filled) {
				continue
			}
			v, err := g.text(f, f.MaxLength)
			if err != nil {
				return fmt.Errorf("failed to build %d runes for %s: %w", f.MaxLength, f.Name, err)
			}
			g.set(p, f.Name, v)
			filled.Add(f.Name)
		}
		return nil
	})
	for _, f := range fields {
		all.Fallback = append(all.Fallback, g.fieldMax(f))
	}
	return []Probe{all}
}

// antagonised reports whether a field shares a one-of group with a filled one
func (g *Generator) antagonised(name string, filled form.Set) bool {
	for _, other := range g.View.DependOneOf[name] {
		if filled.Has(other) {
			return true
		}
	}
	return false
}

func (g *Generator) fieldMax(f form.Field) Probe {
	return g.positive(FamilyMaxLength, f.Name, fmt.Sprintf("%s at max length %d", f.Name, f.MaxLength), func(p form.Params) error {
		v, err := g.text(f, f.MaxLength)
		if err != nil {
			return err
		}
		g.set(p, f.Name, v)
		return nil
	})
}

// MaxLength submits one more rune than each text field allows, and a file
// name one rune longer than a bounded file field stores.
func (g *Generator) MaxLength() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindString, form.KindEmail) {
		if f.MaxLength <= 0 {
			continue
		}
		n := f.MaxLength + 1
		out = append(out, g.negative(FamilyMaxLength, f.Name, fmt.Sprintf("%s longer than %d", f.Name, f.MaxLength),
			func(p form.Params) error {
				v, err := g.text(f, n)
				if err != nil {
					return err
				}
				g.set(p, f.Name, v)
				return nil
			},
			Expect{Kind: messages.MaxLength, Field: f.Name, Locals: g.locals(f.Name, "length", f.MaxLength, "current_length", n)},
		))
	}
	for _, f := range g.visible(form.KindFile) {
		if f.MaxLength <= 0 {
			continue
		}
		spec := g.fileSpec(f)
		ext := "." + spec.Ext
		n := f.MaxLength + 1
		if n <= len(ext) {
			continue
		}
		spec.Name = g.Data.String(n-len(ext), true)
		out = append(out, g.negative(FamilyMaxLength, f.Name, fmt.Sprintf("%s file name longer than %d", f.Name, f.MaxLength),
			g.fileSetter(f.Name, spec),
			Expect{Kind: messages.MaxLengthFile, Field: f.Name, Locals: g.locals(f.Name, "length", f.MaxLength, "current_length", n)},
		))
	}
	return out
}

// MinLength submits exactly the minimum (positive) and one rune less (negative)
func (g *Generator) MinLength() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindString, form.KindEmail) {
		if f.MinLength <= 0 {
			continue
		}
		out = append(out, g.positive(FamilyMinLength, f.Name, fmt.Sprintf("%s at min length %d", f.Name, f.MinLength), func(p form.Params) error {
			v, err := g.text(f, f.MinLength)
			if err != nil {
				return err
			}
			g.set(p, f.Name, v)
			return nil
		}))
		n := f.MinLength - 1
		if n < 1 {
			continue
		}
		out = append(out, g.negative(FamilyMinLength, f.Name, fmt.Sprintf("%s shorter than %d", f.Name, f.MinLength),
			func(p form.Params) error {
				v, err := g.text(f, n)
				if err != nil {
					return err
				}
				g.set(p, f.Name, v)
				return nil
			},
			Expect{Kind: messages.MinLength, Field: f.Name, Locals: g.locals(f.Name, "length", f.MinLength, "current_length", n)},
		))
	}
	return out
}

// Required empties and omits each required field, empties every
// required-related group, and submits only the required fields.
func (g *Generator) Required() []Probe {
	var out []Probe
	for _, name := range g.inOrder(g.View.Required) {
		if !g.View.Visible(name) {
			continue
		}
		out = append(out,
			g.negative(FamilyRequired, name, name+" empty", func(p form.Params) error {
				p[name] = form.Empty
				return nil
			}, Expect{Kind: messages.Required, Field: name, Locals: g.locals(name)}),
			g.negative(FamilyRequired, name, name+" omitted", func(p form.Params) error {
				delete(p, name)
				return nil
			}, Expect{Kind: messages.Required, Field: name, Locals: g.locals(name)}),
		)
	}

	for _, group := range g.View.RequiredRelated {
		label := strings.Join(group, ", ")
		out = append(out, g.negative(FamilyRequired, group[0], "group "+label+" empty", func(p form.Params) error {
			for _, name := range group {
				p[name] = form.Empty
			}
			return nil
		}, Expect{Kind: messages.WithoutRequired, Locals: g.locals(group[0], "group", g.verboseGroup(group, ", "))}))

		for _, keep := range group {
			out = append(out, g.positive(FamilyRequired, keep, "group "+label+" only "+keep, func(p form.Params) error {
				for _, name := range group {
					if name != keep {
						p[name] = form.Empty
					}
				}
				if form.IsEmpty(p[keep]) {
					v, err := g.valid(keep)
					if err != nil {
						return err
					}
					p[keep] = v
				}
				return nil
			}))
		}
	}

	out = append(out, g.positive(FamilyRequired, "", "only required fields filled", func(p form.Params) error {
		keep := form.NewSet(g.View.Required.Sorted()...)
		for _, group := range g.View.RequiredRelated {
			keep.Add(group[0])
		}
		for _, dep := range g.View.RequiredIf {
			for _, lead := range dep.Leads {
				if keep.Has(lead) {
					keep.Add(dep.Dependents...)
				}
			}
		}
		for _, name := range g.View.All {
			if keep.Has(name) || !g.View.Visible(name) {
				continue
			}
			if f, ok := g.View.Field(name); ok && f.Kind == form.KindFile {
				delete(p, name)
				continue
			}
			if _, ok := p[name]; ok {
				p[name] = form.Empty
			}
			delete(p, name+"_0")
			delete(p, name+"_1")
		}
		return nil
	}))
	return out
}

// WrongChoice submits values outside each choice set
func (g *Generator) WrongChoice() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindChoice, form.KindMultiselect, form.KindForeign) {
		for _, value := range wrongChoices {
			expect := Expect{Kind: messages.WrongValue, Field: f.Name, Locals: g.locals(f.Name, "value", value)}
			if f.ValueInError || f.Kind == form.KindMultiselect {
				expect.Kind = messages.WrongValueChoice
			}
			var submitted any = value
			if f.Kind == form.KindMultiselect {
				submitted = []any{value}
			}
			out = append(out, g.negative(FamilyWrongChoice, f.Name, fmt.Sprintf("%s wrong value %q", f.Name, value),
				g.setter(f.Name, submitted), expect))
		}
	}
	return out
}

// uniqueValues copies the group's values from an existing row
func (g *Generator) uniqueValues(ctx context.Context, e target.Entity, group form.UniqueGroup, p form.Params, swap bool) error {
	rec, err := g.existing(ctx, e)
	if err != nil {
		return err
	}
	for _, name := range group.Fields {
		v, ok := rec.Values[name]
		if !ok {
			return fmt.Errorf("row %v has no value for unique field %q", rec.PK, name)
		}
		f, _ := g.View.Field(name)
		v = g.fromRecord(f, v)
		if s, isString := v.(string); isString && swap && f.IsText() {
			v = swapCase(s)
		}
		g.set(p, name, v)
	}
	return nil
}

// UniqueDuplicate submits the values of an existing row for every unique
// group, and the same values with swapped case unless a member is case-sensitive.
func (g *Generator) UniqueDuplicate() []Probe {
	var out []Probe
	for _, group := range g.View.Unique {
		field := group.ErrorKey
		if field == g.nonFieldKey() {
			field = ""
		}
		locals := g.locals(group.Fields[0],
			"verbose_field", g.verboseGroup(group.Fields, " and "),
			"group", g.verboseGroup(group.Fields, ", "))
		expect := Expect{Kind: messages.Unique, Field: field, Locals: locals}
		label := strings.Join(group.Fields, ", ")

		exact := g.negative(FamilyUniqueDuplicate, group.Fields[0], "duplicate "+label, nil, expect)
		exact.Prepare = func(ctx context.Context, e target.Entity, p form.Params) error {
			return g.uniqueValues(ctx, e, group, p, false)
		}
		out = append(out, exact)

		if !g.caseInsensitiveText(group.Fields) {
			continue
		}
		swapped := g.negative(FamilyUniqueDuplicate, group.Fields[0], "duplicate "+label+" in other case", nil, expect)
		swapped.Prepare = func(ctx context.Context, e target.Entity, p form.Params) error {
			return g.uniqueValues(ctx, e, group, p, true)
		}
		out = append(out, swapped)
	}
	return out
}

// caseInsensitiveText reports whether the group has text members and none is case-sensitive
func (g *Generator) caseInsensitiveText(fields []string) bool {
	text := false
	for _, name := range fields {
		f, ok := g.View.Field(name)
		if !ok || !f.IsText() {
			continue
		}
		if f.CaseSensitive {
			return false
		}
		text = true
	}
	return text
}

// UniqueCaseDifferent stores a case-sensitive unique value in lower case on
// an existing row and submits it in upper case: the form must accept it.
func (g *Generator) UniqueCaseDifferent() []Probe {
	var out []Probe
	for _, group := range g.View.Unique {
		var sensitive []form.Field
		for _, name := range group.Fields {
			if f, ok := g.View.Field(name); ok && f.Kind == form.KindString && f.CaseSensitive {
				sensitive = append(sensitive, f)
			}
		}
		if len(sensitive) == 0 {
			continue
		}
		probe := g.positive(FamilyUniqueCase, sensitive[0].Name, "unique "+strings.Join(group.Fields, ", ")+" differing in case", nil)
		probe.Prepare = func(ctx context.Context, e target.Entity, p form.Params) error {
			if err := g.uniqueValues(ctx, e, group, p, false); err != nil {
				return err
			}
			rec, err := g.existing(ctx, e)
			if err != nil {
				return err
			}
			stored := make(map[string]any, len(sensitive))
			for _, f := range sensitive {
				n := 10
				if f.MaxLength > 0 {
					n = min(n, f.MaxLength)
				}
				if n < 2 {
					return fmt.Errorf("field %s is too short for a case probe", f.Name)
				}
				s := "Ab" + g.Data.String(n-2, true)
				stored[f.Name] = strings.ToLower(s)
				g.set(p, f.Name, strings.ToUpper(s))
			}
			if err := e.Update(ctx, rec.PK, stored); err != nil {
				return fmt.Errorf("failed to update row %v: %w", rec.PK, err)
			}
			return nil
		}
		out = append(out, probe)
	}
	return out
}

// DigitalRange probes the bounds of each numeric field and non-numeric input
func (g *Generator) DigitalRange() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindInt, form.KindFloat) {
		r := f.Range
		if r.HasMax {
			out = append(out,
				g.positive(FamilyDigitalRange, f.Name, fmt.Sprintf("%s at max %s", f.Name, number(f, r.Max)), g.setter(f.Name, numeric(f, r.Max))),
				g.negative(FamilyDigitalRange, f.Name, fmt.Sprintf("%s above max %s", f.Name, number(f, r.Max)),
					g.setter(f.Name, numeric(f, r.Max+1)),
					Expect{Kind: messages.MaxLengthDigital, Field: f.Name, Locals: g.locals(f.Name, "max_value", number(f, r.Max))}),
			)
		}
		if r.HasMin {
			out = append(out,
				g.positive(FamilyDigitalRange, f.Name, fmt.Sprintf("%s at min %s", f.Name, number(f, r.Min)), g.setter(f.Name, numeric(f, r.Min))),
				g.negative(FamilyDigitalRange, f.Name, fmt.Sprintf("%s below min %s", f.Name, number(f, r.Min)),
					g.setter(f.Name, numeric(f, r.Min-1)),
					Expect{Kind: messages.MinLengthDigital, Field: f.Name, Locals: g.locals(f.Name, "min_value", number(f, r.Min))}),
			)
		}
		kind := messages.WrongValueDigital
		values := wrongDigits
		if f.Kind == form.KindInt {
			kind = messages.WrongValueInt
			values = append(append([]string(nil), wrongDigits...), "1.5")
		}
		for _, value := range values {
			out = append(out, g.negative(FamilyDigitalRange, f.Name, fmt.Sprintf("%s not a number %q", f.Name, value),
				g.setter(f.Name, value),
				Expect{Kind: kind, Field: f.Name, Locals: g.locals(f.Name, "value", value)}))
		}
	}
	return out
}

// numeric returns the submitted value of a bound
func numeric(f form.Field, v float64) any {
	if f.Kind == form.KindInt {
		return int64(math.Round(v))
	}
	return v
}

// number renders a bound the way a validator message shows it
func number(f form.Field, v float64) string {
	if f.Kind == form.KindInt {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return form.Render(v)
}

// WrongEmail submits malformed addresses to each email field
func (g *Generator) WrongEmail() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindEmail) {
		for _, value := range wrongEmails {
			out = append(out, g.negative(FamilyWrongEmail, f.Name, fmt.Sprintf("%s wrong email %q", f.Name, value),
				g.setter(f.Name, value),
				Expect{Kind: messages.WrongValueEmail, Field: f.Name, Locals: g.locals(f.Name, "value", value)}))
		}
	}
	return out
}

// DisabledIgnored submits a new value for each disabled field and checks
// that the saved row does not carry it.
func (g *Generator) DisabledIgnored() []Probe {
	var out []Probe
	for _, name := range g.inOrder(g.View.Disabled) {
		f, ok := g.View.Field(name)
		if !ok {
			continue
		}
		var submitted any
		probe := g.positive(FamilyDisabledIgnored, name, name+" disabled value ignored", func(p form.Params) error {
			v, err := g.Data.Value(f, 0, g.layout(f))
			if err != nil {
				return err
			}
			submitted = v
			p[name] = v
			return nil
		})
		probe.Exclude = []string{name}
		probe.Check = func(_ context.Context, o *Outcome) error {
			if o.Record == nil {
				return nil
			}
			got, stored := o.Record.Values[name]
			if !stored {
				return nil
			}
			row := target.Record{PK: o.Record.PK, Values: map[string]any{name: got}}
			if compare.ObjectFields(row, form.Params{name: submitted}, compare.Options{}) == nil {
				return fmt.Errorf("disabled field %s saved the submitted value %v", name, form.Render(submitted))
			}
			return nil
		}
		out = append(out, probe)
	}
	return out
}

// OneOf submits each member of a one-of group alone (positive), every pair
// and the whole group (negative).
func (g *Generator) OneOf() []Probe {
	var out []Probe
	for _, group := range g.View.OneOf {
		locals := g.locals(group[0], "group", g.verboseGroup(group, ", "))
		fill := func(p form.Params, members []string) error {
			for _, name := range group {
				p[name] = form.Empty
			}
			for _, name := range members {
				v, err := g.valid(name)
				if err != nil {
					return err
				}
				p[name] = v
			}
			return nil
		}

		for _, name := range group {
			members := []string{name}
			out = append(out, g.positive(FamilyOneOf, name, "one of "+strings.Join(group, ", ")+": only "+name, func(p form.Params) error {
				return fill(p, members)
			}))
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				members := []string{group[i], group[j]}
				out = append(out, g.negative(FamilyOneOf, group[i], "one of: both "+group[i]+" and "+group[j], func(p form.Params) error {
					return fill(p, members)
				}, Expect{Kind: messages.OneOf, Locals: locals}))
			}
		}
		if len(group) > 2 {
			out = append(out, g.negative(FamilyOneOf, group[0], "one of: whole group "+strings.Join(group, ", "), func(p form.Params) error {
				return fill(p, group)
			}, Expect{Kind: messages.OneOf, Locals: locals}))
		}
	}
	return out
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsUpper(r) {
			return unicode.ToLower(r)
		}
		return unicode.ToUpper(r)
	}, s)
}
