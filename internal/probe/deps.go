package probe

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/QTest-hq/formprobe/internal/inspect"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
)

const timeLayout = "15:04"

// Interval submits end values equal to, before and after the start of
// every declared interval.
func (g *Generator) Interval() []Probe {
	var out []Probe
	for _, iv := range g.Model.Intervals {
		if !slices.Contains(g.View.All, iv.Start) || !slices.Contains(g.View.All, iv.End) {
			continue
		}
		step := time.Minute
		if f, ok := g.View.Field(iv.End); ok && f.Kind == form.KindDate && !g.split(iv.End) {
			step = 24 * time.Hour
		}
		start := g.Data.Now().Truncate(time.Minute)
		expect := Expect{
			Kind:   messages.WrongInterval,
			Field:  iv.End,
			Locals: g.locals(iv.End, "start_field", g.Model.VerboseField(iv.Start)),
		}
		pair := func(end time.Time) func(form.Params) error {
			return func(p form.Params) error {
				g.writeTime(p, iv.Start, start)
				g.writeTime(p, iv.End, end)
				return nil
			}
		}
		label := fmt.Sprintf("%s %s %s", iv.End, iv.Op, iv.Start)

		if iv.Strict() {
			out = append(out, g.negative(FamilyInterval, iv.End, label+": end equals start", pair(start), expect))
		} else {
			out = append(out, g.positive(FamilyInterval, iv.End, label+": end equals start", pair(start)))
		}
		out = append(out,
			g.negative(FamilyInterval, iv.End, label+": end before start", pair(start.Add(-step)), expect),
			g.positive(FamilyInterval, iv.End, label+": end after start", pair(start.Add(step))),
		)
	}
	return out
}

// split reports whether the field is submitted as a date and a time part
func (g *Generator) split(name string) bool {
	_, ok := g.View.Defaults[name+"_0"]
	return ok
}

func (g *Generator) writeTime(p form.Params, name string, t time.Time) {
	if g.split(name) {
		p[name+"_0"] = t.Format(g.Model.DateFormat())
		p[name+"_1"] = t.Format(timeLayout)
		return
	}
	f, _ := g.View.Field(name)
	if f.Kind == form.KindDate {
		g.set(p, name, t.Format(g.Model.DateFormat()))
		return
	}
	g.set(p, name, t.Format(g.Model.DateTimeFormat()))
}

// RequiredIf checks each dependency: with the leads empty the dependents may
// be empty; with the leads filled every empty dependent is required.
func (g *Generator) RequiredIf() []Probe {
	var out []Probe
	for _, dep := range g.View.RequiredIf {
		if len(dep.Leads) == 0 || len(dep.Dependents) == 0 {
			continue
		}
		label := strings.Join(dep.Leads, ", ") + " -> " + strings.Join(dep.Dependents, ", ")

		optional := true
		for _, name := range append(append([]string(nil), dep.Leads...), dep.Dependents...) {
			if g.View.Required.Has(name) {
				optional = false
			}
		}
		if optional {
			out = append(out, g.positive(FamilyRequiredIf, dep.Leads[0], label+": all empty", func(p form.Params) error {
				for _, name := range dep.Leads {
					p[name] = form.Empty
				}
				for _, name := range dep.Dependents {
					p[name] = form.Empty
				}
				return nil
			}))
		}

		var expect []Expect
		for _, name := range dep.Dependents {
			expect = append(expect, Expect{Kind: messages.Required, Field: name, Locals: g.locals(name)})
		}
		out = append(out, g.negative(FamilyRequiredIf, dep.Dependents[0], label+": leads filled, dependents empty", func(p form.Params) error {
			for _, name := range dep.Leads {
				if !form.IsEmpty(p[name]) {
					continue
				}
				v, err := g.valid(name)
				if err != nil {
					return err
				}
				g.set(p, name, v)
			}
			for _, name := range dep.Dependents {
				p[name] = form.Empty
			}
			return nil
		}, expect...))
	}
	return out
}

// MaxBlocks submits exactly the allowed number of inline rows and one more.
// Rows are copied from the block's first row in the defaults.
func (g *Generator) MaxBlocks() []Probe {
	blocks := make([]string, 0, len(g.Model.MaxBlocks))
	for block := range g.Model.MaxBlocks {
		blocks = append(blocks, block)
	}
	sort.Strings(blocks)

	var out []Probe
	for _, block := range blocks {
		limit := g.Model.MaxBlocks[block]
		row := g.row(block)
		if len(row) == 0 || limit <= 0 {
			continue
		}
		fill := func(n int) func(form.Params) error {
			return func(p form.Params) error {
				prefix := block + "-"
				for key := range p {
					if strings.HasPrefix(key, prefix) {
						delete(p, key)
					}
				}
				for i := 0; i < n; i++ {
					for sub, v := range row {
						p[inspect.RowKey(block, i, sub)] = form.Params{sub: v}.Clone()[sub]
					}
				}
				p[block+"-TOTAL_FORMS"] = strconv.Itoa(n)
				p[block+"-INITIAL_FORMS"] = "0"
				p[block+"-MIN_NUM_FORMS"] = "0"
				p[block+"-MAX_NUM_FORMS"] = "1000"
				return nil
			}
		}
		out = append(out,
			g.positive(FamilyMaxBlocks, block, fmt.Sprintf("%s with %d rows", block, limit), fill(limit)),
			g.negative(FamilyMaxBlocks, block, fmt.Sprintf("%s with %d rows", block, limit+1), fill(limit+1),
				Expect{Kind: messages.MaxBlockCount, Field: inspect.FormsetKey(block, g.nonFieldKey()), Locals: g.locals(block, "length", limit)}),
		)
	}
	return out
}

// row returns the sub-field values of a block's first row in the defaults
func (g *Generator) row(block string) form.Params {
	prefix := inspect.RowKey(block, 0, "")
	row := form.Params{}
	for key, v := range g.View.Defaults {
		if sub, ok := strings.CutPrefix(key, prefix); ok && sub != "" && sub != "id" && sub != "DELETE" {
			row[sub] = v
		}
	}
	return row
}

func (g *Generator) nonFieldKey() string {
	if g.Model.NonFieldKey != "" {
		return g.Model.NonFieldKey
	}
	return form.DefaultNonFieldKey
}
