// Package probe composes per-field parameter mutations with their expected
// outcome. A Generator turns a classified form view into probes, one family
// at a time; the scenario driver runs them.
package probe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// Profile is the expected outcome class of a probe
type Profile int

const (
	// Positive probes expect the submission to be saved
	Positive Profile = iota
	// Negative probes expect form errors and no state change
	Negative
)

func (p Profile) String() string {
	if p == Negative {
		return "negative"
	}
	return "positive"
}

// Family groups probes generated from one declared capability
type Family string

const (
	FamilyAllFieldsMax    Family = "all-fields-max"
	FamilyMaxLength       Family = "length-max"
	FamilyMinLength       Family = "length-min"
	FamilyRequired        Family = "empty-required"
	FamilyWrongChoice     Family = "wrong-choice"
	FamilyUniqueDuplicate Family = "unique-duplicate"
	FamilyUniqueCase      Family = "unique-case-different"
	FamilyDigitalRange    Family = "digital-range"
	FamilyWrongEmail      Family = "email-wrong"
	FamilyDisabledIgnored Family = "disabled-ignored"
	FamilyOneOf           Family = "one-of"
	FamilyFiles           Family = "file"
	FamilyNullByte        Family = "null-byte"
	FamilyInterval        Family = "interval"
	FamilyRequiredIf      Family = "required-if"
	FamilyMaxBlocks       Family = "max-blocks"
	FamilyCustom          Family = "custom"
)

// Policy tells the driver what to do with rows left by earlier probes
type Policy int

const (
	// Keep leaves earlier rows in place
	Keep Policy = iota
	// DeletePrevious removes the rows saved by the previous positive probe
	// before this one runs, so default values do not collide on unique groups
	DeletePrevious
)

// policies is the pre-delete table for positive add probes. Negative probes
// always run inside a savepoint that is rolled back, so they keep.
var policies = map[Family]Policy{
	FamilyAllFieldsMax:    DeletePrevious,
	FamilyMaxLength:       DeletePrevious,
	FamilyMinLength:       DeletePrevious,
	FamilyRequired:        DeletePrevious,
	FamilyWrongChoice:     Keep,
	FamilyUniqueDuplicate: Keep,
	FamilyUniqueCase:      Keep,
	FamilyDigitalRange:    DeletePrevious,
	FamilyWrongEmail:      Keep,
	FamilyDisabledIgnored: DeletePrevious,
	FamilyOneOf:           DeletePrevious,
	FamilyFiles:           DeletePrevious,
	FamilyNullByte:        DeletePrevious,
	FamilyInterval:        DeletePrevious,
	FamilyRequiredIf:      DeletePrevious,
	FamilyMaxBlocks:       DeletePrevious,
	FamilyCustom:          Keep,
}

// PolicyFor returns the pre-delete policy of a positive probe in the family
func PolicyFor(f Family) Policy {
	return policies[f]
}

// Expect is one expected form error
type Expect struct {
	Kind   messages.Kind
	Field  string // empty for non-field errors
	Locals messages.Locals
}

// Outcome is what a probe's Check sees after submission
type Outcome struct {
	Params   form.Params
	Response *target.Response
	Snapshot *target.Snapshot
	Record   *target.Record // the created or edited row of a positive probe
	Entity   target.Entity
}

// Probe is one parameter mutation with its expected outcome
type Probe struct {
	Name     string
	Family   Family
	Field    string
	Profile  Profile
	Mutate   func(p form.Params) error
	Prepare  func(ctx context.Context, e target.Entity, p form.Params) error
	Expect   []Expect
	Check    func(ctx context.Context, o *Outcome) error
	Fallback []Probe // run only when this probe fails
	Policy   Policy
	Exclude  []string    // fields skipped in the post-save comparison
	Other    form.Params // expected post-save values overriding the submitted ones
}

// Apply runs the probe's mutation, if any
func (p *Probe) Apply(params form.Params) error {
	if p.Mutate == nil {
		return nil
	}
	return p.Mutate(params)
}

// Generator builds probes for one view of a field model
type Generator struct {
	Model  *form.FieldModel
	View   *form.View
	Data   *datagen.Generator
	Mode   form.Mode
	Object any // primary key of the edited row in edit mode
}

// New creates a generator for the mode's view
func New(model *form.FieldModel, mode form.Mode, data *datagen.Generator) *Generator {
	return &Generator{Model: model, View: model.View(mode), Data: data, Mode: mode}
}

// All returns every probe family in declared order
func (g *Generator) All(profile Profile) []Probe {
	families := []func() []Probe{
		g.AllFieldsMax,
		g.MaxLength,
		g.MinLength,
		g.Required,
		g.WrongChoice,
		g.UniqueDuplicate,
		g.UniqueCaseDifferent,
		g.DigitalRange,
		g.WrongEmail,
		g.DisabledIgnored,
		g.OneOf,
		g.Files,
		g.NullByte,
		g.Interval,
		g.RequiredIf,
		g.MaxBlocks,
	}
	var out []Probe
	for _, family := range families {
		for _, p := range family() {
			if p.Profile == profile {
				out = append(out, p)
			}
		}
	}
	return out
}

func (g *Generator) positive(family Family, field, name string, mutate func(form.Params) error) Probe {
	p := Probe{
		Name:    name,
		Family:  family,
		Field:   field,
		Profile: Positive,
		Mutate:  mutate,
	}
	if g.Mode == form.ModeAdd {
		p.Policy = PolicyFor(family)
	}
	return p
}

func (g *Generator) negative(family Family, field, name string, mutate func(form.Params) error, expect ...Expect) Probe {
	return Probe{
		Name:    name,
		Family:  family,
		Field:   field,
		Profile: Negative,
		Mutate:  mutate,
		Expect:  expect,
	}
}

// set writes value, clearing one-of antagonists first on the add form
func (g *Generator) set(p form.Params, name string, value any) {
	if g.Mode == form.ModeAdd {
		g.View.ClearAntagonists(p, name)
	}
	p[name] = value
}

// setter returns a mutation writing one value
func (g *Generator) setter(name string, value any) func(form.Params) error {
	return func(p form.Params) error {
		g.set(p, name, value)
		return nil
	}
}

// locals returns the locals every message may reference plus extra pairs
func (g *Generator) locals(field string, pairs ...any) messages.Locals {
	l := messages.Locals{
		"verbose_obj":   g.Model.VerboseObject(),
		"verbose_field": g.Model.VerboseField(field),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		l[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return l
}

// visible returns the editable fields of the given kinds in form order
func (g *Generator) visible(kinds ...form.Kind) []form.Field {
	var out []form.Field
	for _, f := range g.View.FieldsOf(kinds...) {
		if g.View.Visible(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// text returns a value of exactly n runes for a text field
func (g *Generator) text(f form.Field, n int) (string, error) {
	if f.Kind == form.KindEmail {
		return g.Data.Email(n, false)
	}
	return g.Data.String(n, false), nil
}

// valid returns a value the field accepts: generated when possible,
// otherwise the view default.
func (g *Generator) valid(name string) (any, error) {
	f, ok := g.View.Field(name)
	if !ok {
		return nil, fmt.Errorf("field %q is not on the %s form", name, g.Mode)
	}
	v, err := g.Data.Value(f, 0, g.layout(f))
	if err == nil && !form.IsEmpty(v) {
		return v, nil
	}
	if def, ok := g.View.Defaults[name]; ok && !form.IsEmpty(def) {
		return form.Params{name: def}.Clone()[name], nil
	}
	if err == nil || errors.Is(err, datagen.ErrNoValue) {
		return nil, fmt.Errorf("no valid value for %q: declare it in default_params", name)
	}
	return nil, err
}

func (g *Generator) layout(f form.Field) string {
	if f.Kind == form.KindDateTime {
		return g.Model.DateTimeFormat()
	}
	return g.Model.DateFormat()
}

// fromRecord converts a stored value into its submitted form
func (g *Generator) fromRecord(f form.Field, v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(g.layout(f))
	case target.Record:
		return val.PK
	case []target.Record:
		keys := make([]any, 0, len(val))
		for _, r := range val {
			keys = append(keys, r.PK)
		}
		return keys
	}
	return v
}

// existing returns a stored row other than the edited one
func (g *Generator) existing(ctx context.Context, e target.Entity) (target.Record, error) {
	if g.Mode == form.ModeEdit && g.Object != nil {
		rows, err := e.Exclude(ctx, []any{g.Object})
		if err != nil {
			return target.Record{}, fmt.Errorf("failed to list %s rows: %w", e.Name(), err)
		}
		if len(rows) == 0 {
			return target.Record{}, fmt.Errorf("no other %s row to duplicate: %w", e.Name(), target.ErrNotFound)
		}
		return rows[0], nil
	}
	rec, err := e.First(ctx)
	if err != nil {
		return target.Record{}, fmt.Errorf("no %s row to duplicate: %w", e.Name(), err)
	}
	return rec, nil
}

func (g *Generator) verboseGroup(fields []string, sep string) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, g.Model.VerboseField(f))
	}
	return strings.Join(names, sep)
}

func (g *Generator) inOrder(names form.Set) []string {
	var out []string
	for _, name := range g.View.All {
		if names.Has(name) {
			out = append(out, name)
		}
	}
	var rest []string
	for name := range names {
		if !slices.Contains(out, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
