package testapp

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// emailPattern accepts a dot-atom local part and a domain ending in a
// letter-only top level label
var emailPattern = regexp.MustCompile(
	"^[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+(\\.[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		`@([A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?\.)+[A-Za-z]{2,}$`)

const timeLayout = "15:04"

// cleaner validates one submission against a view and collects the values
// to store
type cleaner struct {
	s       *Server
	view    *form.View
	sub     *submission
	errs    *formErrors
	current *target.Record // the edited row, nil on add
	clean   map[string]any
	filled  form.Set
	times   map[string]time.Time
}

// validate checks sub field by field, then the cross-field rules, and
// returns the values to store
func (s *Server) validate(ctx context.Context, view *form.View, sub *submission, errs *formErrors, current *target.Record) (map[string]any, error) {
	c := &cleaner{
		s:       s,
		view:    view,
		sub:     sub,
		errs:    errs,
		current: current,
		clean:   make(map[string]any),
		filled:  form.NewSet(),
		times:   make(map[string]time.Time),
	}
	for _, name := range view.All {
		if view.Disabled.Has(name) {
			c.disabled(name)
			continue
		}
		f, ok := view.Field(name)
		if !ok {
			continue
		}
		c.field(f)
	}
	c.groups()
	if err := c.unique(ctx); err != nil {
		return nil, err
	}
	return c.clean, nil
}

func (c *cleaner) add(field string, kind messages.Kind, pairs ...any) {
	c.errs.add(field, kind, c.s.locals(field, pairs...))
}

// disabled keeps the stored value, or the initial one on add
func (c *cleaner) disabled(name string) {
	if c.current != nil {
		if v, ok := c.current.Values[name]; ok {
			c.clean[name] = v
		}
		return
	}
	if v, ok := c.view.Defaults[name]; ok {
		c.clean[name] = v
	}
}

// raw returns the submitted text of a field, joining split inputs
func (c *cleaner) raw(name string) string {
	if split(c.view, name) {
		return strings.TrimSpace(c.sub.get(name+"_0") + " " + c.sub.get(name+"_1"))
	}
	return c.sub.get(name)
}

// missing handles a field submitted empty
func (c *cleaner) missing(f form.Field) {
	if c.view.Required.Has(f.Name) {
		c.add(f.Name, messages.Required)
		return
	}
	switch f.Kind {
	case form.KindString, form.KindEmail, form.KindChoice:
		c.clean[f.Name] = ""
	case form.KindMultiselect:
		c.clean[f.Name] = []any{}
	default:
		c.clean[f.Name] = nil
	}
}

func (c *cleaner) field(f form.Field) {
	switch f.Kind {
	case form.KindFile:
		c.file(f)
		return
	case form.KindRelated:
		return
	case form.KindBool:
		v := strings.ToLower(c.sub.get(f.Name))
		checked := v == "on" || v == "true" || v == "1"
		if !checked && c.view.Required.Has(f.Name) {
			c.add(f.Name, messages.Required)
			return
		}
		c.clean[f.Name] = checked
		return
	case form.KindMultiselect:
		c.multiselect(f)
		return
	}

	raw := c.raw(f.Name)
	if raw == "" {
		c.missing(f)
		return
	}
	c.filled.Add(f.Name)

	switch f.Kind {
	case form.KindString:
		c.text(f, raw)
	case form.KindEmail:
		c.email(f, raw)
	case form.KindInt:
		c.integer(f, raw)
	case form.KindFloat:
		c.float(f, raw)
	case form.KindChoice, form.KindForeign:
		if !allowed(f, raw) {
			kind := messages.WrongValue
			if f.ValueInError {
				kind = messages.WrongValueChoice
			}
			c.add(f.Name, kind, "value", raw)
			return
		}
		c.clean[f.Name] = raw
	case form.KindDate:
		c.temporal(f, raw, c.dateLayouts())
	case form.KindDateTime:
		c.temporal(f, raw, c.dateTimeLayouts())
	}
}

// stripNull applies the null character policy and reports whether the value survives
func (c *cleaner) stripNull(f form.Field, raw string, mode form.NullMode, local string) (string, bool) {
	if !strings.ContainsRune(raw, 0) {
		return raw, true
	}
	if mode == form.NullAccept {
		return strings.ReplaceAll(raw, "\x00", ""), true
	}
	c.add(f.Name, messages.WithNull, local, raw)
	return "", false
}

func (c *cleaner) text(f form.Field, raw string) {
	value, ok := c.stripNull(f, raw, c.s.model.NullCheck.Str, "value")
	if !ok || !c.length(f, value) {
		return
	}
	c.clean[f.Name] = value
}

func (c *cleaner) email(f form.Field, raw string) {
	value, ok := c.stripNull(f, raw, c.s.model.NullCheck.Str, "value")
	if !ok {
		return
	}
	if !emailPattern.MatchString(value) {
		c.add(f.Name, messages.WrongValueEmail, "value", value)
		return
	}
	if !c.length(f, value) {
		return
	}
	c.clean[f.Name] = value
}

// length checks the rune count against the field bounds
func (c *cleaner) length(f form.Field, value string) bool {
	n := utf8.RuneCountInString(value)
	switch {
	case f.MaxLength > 0 && n > f.MaxLength:
		c.add(f.Name, messages.MaxLength, "length", f.MaxLength, "current_length", n)
		return false
	case f.MinLength > 0 && n < f.MinLength:
		c.add(f.Name, messages.MinLength, "length", f.MinLength, "current_length", n)
		return false
	}
	return true
}

func (c *cleaner) integer(f form.Field, raw string) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		c.add(f.Name, messages.WrongValueInt, "value", raw)
		return
	}
	if c.inRange(f, float64(v)) {
		c.clean[f.Name] = v
	}
}

func (c *cleaner) float(f form.Field, raw string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		c.add(f.Name, messages.WrongValueDigital, "value", raw)
		return
	}
	if c.inRange(f, v) {
		c.clean[f.Name] = v
	}
}

func (c *cleaner) inRange(f form.Field, v float64) bool {
	r := f.Range
	switch {
	case r.HasMax && v > r.Max:
		c.add(f.Name, messages.MaxLengthDigital, "max_value", bound(f, r.Max))
		return false
	case r.HasMin && v < r.Min:
		c.add(f.Name, messages.MinLengthDigital, "min_value", bound(f, r.Min))
		return false
	}
	return true
}

// bound renders a range limit the way the validator message shows it
func bound(f form.Field, v float64) string {
	if f.Kind == form.KindInt {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return form.Render(v)
}

// allowed reports whether raw is one of the field's choices. Foreign keys
// without declared choices accept any whole number.
func allowed(f form.Field, raw string) bool {
	if f.Kind == form.KindForeign && len(f.Values) == 0 {
		_, err := strconv.ParseInt(raw, 10, 64)
		return err == nil
	}
	for _, v := range f.Values {
		if form.Render(v) == raw {
			return true
		}
	}
	return false
}

func (c *cleaner) multiselect(f form.Field) {
	selected := c.sub.list(f.Name)
	if len(selected) == 0 {
		c.missing(f)
		return
	}
	c.filled.Add(f.Name)
	values := make([]any, 0, len(selected))
	for _, v := range selected {
		if !allowed(f, v) {
			c.add(f.Name, messages.WrongValueChoice, "value", v)
			return
		}
		values = append(values, v)
	}
	c.clean[f.Name] = values
}

func (c *cleaner) dateLayouts() []string {
	return append(append([]string(nil), c.s.model.DateFormats...), form.DefaultDateFormat)
}

func (c *cleaner) dateTimeLayouts() []string {
	layouts := append([]string(nil), c.s.model.DateTimeFormats...)
	layouts = append(layouts, form.DefaultDateTimeFormat, "2006-01-02 15:04:05", "2006-01-02T15:04", time.RFC3339)
	for _, d := range c.dateLayouts() {
		layouts = append(layouts, d+" "+timeLayout, d+" "+timeLayout+":05")
	}
	return layouts
}

func (c *cleaner) temporal(f form.Field, raw string, layouts []string) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			c.clean[f.Name] = t
			c.times[f.Name] = t
			return
		}
	}
	c.add(f.Name, messages.WrongValue, "value", raw)
}

// groups applies the cross-field rules
func (c *cleaner) groups() {
	for _, group := range c.view.RequiredRelated {
		if c.countFilled(group) == 0 {
			c.add("", messages.WithoutRequired, "group", c.s.verboseGroup(group, ", "))
		}
	}
	for _, group := range c.view.OneOf {
		if c.countFilled(group) > 1 {
			c.errs.add("", messages.OneOf, c.s.locals(group[0], "group", c.s.verboseGroup(group, ", ")))
		}
	}
	for _, dep := range c.view.RequiredIf {
		if c.countFilled(dep.Leads) < len(dep.Leads) {
			continue
		}
		for _, name := range dep.Dependents {
			if !c.filled.Has(name) && !c.errs.has(name) {
				c.add(name, messages.Required)
			}
		}
	}
	for _, iv := range c.s.model.Intervals {
		start, okStart := c.times[iv.Start]
		end, okEnd := c.times[iv.End]
		if !okStart || !okEnd {
			continue
		}
		if end.Before(start) || (iv.Strict() && end.Equal(start)) {
			c.add(iv.End, messages.WrongInterval, "start_field", c.s.model.VerboseField(iv.Start))
		}
	}
}

func (c *cleaner) countFilled(names []string) int {
	n := 0
	for _, name := range names {
		if c.filled.Has(name) {
			n++
		}
	}
	return n
}

// unique rejects values another row already holds. Text members compare
// case-insensitively unless the field is case-sensitive.
func (c *cleaner) unique(ctx context.Context) error {
	var exclude []any
	if c.current != nil {
		exclude = []any{c.current.PK}
	}
	for _, group := range c.view.Unique {
		if !c.checkable(group.Fields) {
			continue
		}
		rows, err := c.s.cfg.Entity.Exclude(ctx, exclude)
		if err != nil {
			return fmt.Errorf("failed to list %s rows: %w", c.s.cfg.Entity.Name(), err)
		}
		for _, row := range rows {
			if !c.sameValues(group.Fields, row) {
				continue
			}
			field := group.ErrorKey
			if field == c.s.model.NonFieldKey {
				field = ""
			}
			c.errs.add(field, messages.Unique, c.s.locals(group.Fields[0],
				"verbose_field", c.s.verboseGroup(group.Fields, " and "),
				"group", c.s.verboseGroup(group.Fields, ", ")))
			break
		}
	}
	return nil
}

// checkable reports whether every member was cleaned to a non-empty value
func (c *cleaner) checkable(fields []string) bool {
	for _, name := range fields {
		if c.errs.has(name) {
			return false
		}
		if v, ok := c.clean[name]; !ok || form.IsEmpty(v) {
			return false
		}
	}
	return true
}

func (c *cleaner) sameValues(fields []string, row target.Record) bool {
	for _, name := range fields {
		stored, ok := row.Values[name]
		if !ok {
			return false
		}
		value := c.clean[name]
		if t, isTime := value.(time.Time); isTime {
			st, ok := stored.(time.Time)
			if !ok || !st.Equal(t) {
				return false
			}
			continue
		}
		f, _ := c.view.Field(name)
		if f.IsText() && !f.CaseSensitive {
			if !strings.EqualFold(fmt.Sprint(stored), fmt.Sprint(value)) {
				return false
			}
			continue
		}
		if fmt.Sprint(stored) != fmt.Sprint(value) {
			return false
		}
	}
	return true
}
