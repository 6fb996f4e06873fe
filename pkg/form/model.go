// Package form defines the declarative description of a form under test:
// the sparse Declaration written by a test author, the resolved FieldModel
// derived from it, and the parameter maps submitted to the form.
package form

import (
	"sort"
	"strconv"
	"strings"
)

// Default layouts used to render and parse temporal values
const (
	DefaultDateFormat     = "2006-01-02"
	DefaultDateTimeFormat = "2006-01-02 15:04"
	DefaultNonFieldKey    = "__all__"
)

// Mode selects the add or the edit form
type Mode int

const (
	ModeAdd Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "add"
}

// UniqueGroup is a set of fields whose joint value must be unique.
// ErrorKey names the form key the uniqueness error is reported under.
type UniqueGroup struct {
	Fields   []string `json:"fields"`
	ErrorKey string   `json:"error_key"`
}

// View is the resolved model of one form (add or edit)
type View struct {
	Mode             Mode
	All              []string
	Fields           map[string]Field
	Defaults         Params
	Required         Set
	RequiredRelated  [][]string
	Hidden           Set
	Disabled         Set
	Unique           []UniqueGroup
	AllUnique        map[string]string // group key -> error key, for non-field groups
	OneOf            [][]string
	DependOneOf      map[string][]string
	RequiredIf       []Dependency
	ExcludeFromCheck Set
}

// Field returns the classified field, if the view knows it
func (v *View) Field(name string) (Field, bool) {
	f, ok := v.Fields[name]
	return f, ok
}

// FieldsOf returns the fields of the given kinds in form order
func (v *View) FieldsOf(kinds ...Kind) []Field {
	var out []Field
	for _, name := range v.All {
		f, ok := v.Fields[name]
		if !ok {
			continue
		}
		for _, k := range kinds {
			if f.Kind == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Visible reports whether the field is rendered as an editable input
func (v *View) Visible(name string) bool {
	return !v.Hidden.Has(name) && !v.Disabled.Has(name)
}

// ClearAntagonists sets every field that shares a one-of group with name to Empty
func (v *View) ClearAntagonists(p Params, name string) {
	for _, other := range v.DependOneOf[name] {
		if _, ok := p[other]; ok {
			p[other] = Empty
		}
	}
}

// FileFields returns the file fields in form order
func (v *View) FileFields() []Field {
	return v.FieldsOf(KindFile)
}

// FieldModel is the classified, resolved description of a form
type FieldModel struct {
	Name            string
	VerboseName     string
	Add             *View
	Edit            *View
	Intervals       []Interval
	MaxBlocks       map[string]int
	OtherValues     Params
	VerboseNames    map[string]string
	Languages       []string
	NullCheck       NullCheck
	NonFieldKey     string
	DateFormats     []string
	DateTimeFormats []string
}

// View returns the view for the mode
func (m *FieldModel) View(mode Mode) *View {
	if mode == ModeEdit {
		return m.Edit
	}
	return m.Add
}

// VerboseField returns the human name of a field
func (m *FieldModel) VerboseField(name string) string {
	if v, ok := m.VerboseNames[name]; ok && v != "" {
		return v
	}
	return strings.ReplaceAll(name, "_", " ")
}

// VerboseObject returns the human name of the entity
func (m *FieldModel) VerboseObject() string {
	if m.VerboseName != "" {
		return m.VerboseName
	}
	return m.Name
}

// DateFormat returns the first recognised date input format
func (m *FieldModel) DateFormat() string {
	if len(m.DateFormats) > 0 {
		return m.DateFormats[0]
	}
	return DefaultDateFormat
}

// DateTimeFormat returns the first recognised datetime input format
func (m *FieldModel) DateTimeFormat() string {
	if len(m.DateTimeFormats) > 0 {
		return m.DateTimeFormats[0]
	}
	return DefaultDateTimeFormat
}

// GroupKey joins group members into a stable identifier
func GroupKey(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
