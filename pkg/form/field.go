package form

import (
	"sort"
	"strconv"
	"strings"
)

// Kind is the primary kind of a form field
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindDate
	KindDateTime
	KindEmail
	KindChoice
	KindMultiselect
	KindFile
	KindForeign
	KindRelated
	KindBool
)

var kindNames = map[Kind]string{
	KindString:      "string",
	KindInt:         "int",
	KindFloat:       "float",
	KindDate:        "date",
	KindDateTime:    "datetime",
	KindEmail:       "email",
	KindChoice:      "choice",
	KindMultiselect: "multiselect",
	KindFile:        "file",
	KindForeign:     "foreign",
	KindRelated:     "related",
	KindBool:        "bool",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Range is a numeric interval; either bound may be absent
type Range struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	HasMin bool    `json:"has_min"`
	HasMax bool    `json:"has_max"`
}

// Empty reports whether no value can satisfy the range
func (r Range) Empty() bool {
	return r.HasMin && r.HasMax && r.Min > r.Max
}

// FileParams is the upload policy of a file field
type FileParams struct {
	Extensions      []string `yaml:"extensions,omitempty" json:"extensions,omitempty"`
	MaxCount        int      `yaml:"max_count,omitempty" json:"max_count,omitempty"`
	OneMaxSize      int64    `yaml:"one_max_size,omitempty" json:"one_max_size,omitempty"`
	SumMaxSize      int64    `yaml:"sum_max_size,omitempty" json:"sum_max_size,omitempty"`
	MinWidth        int      `yaml:"min_width,omitempty" json:"min_width,omitempty"`
	MaxWidth        int      `yaml:"max_width,omitempty" json:"max_width,omitempty"`
	MinHeight       int      `yaml:"min_height,omitempty" json:"min_height,omitempty"`
	MaxHeight       int      `yaml:"max_height,omitempty" json:"max_height,omitempty"`
	WrongExtensions []string `yaml:"wrong_extensions,omitempty" json:"wrong_extensions,omitempty"`
}

// Has reports whether the policy declares the parameter with the given yaml name
func (p FileParams) Has(key string) bool {
	switch key {
	case "extensions":
		return len(p.Extensions) > 0
	case "max_count":
		return p.MaxCount > 0
	case "one_max_size":
		return p.OneMaxSize > 0
	case "sum_max_size":
		return p.SumMaxSize > 0
	case "min_width":
		return p.MinWidth > 0
	case "max_width":
		return p.MaxWidth > 0
	case "min_height":
		return p.MinHeight > 0
	case "max_height":
		return p.MaxHeight > 0
	case "wrong_extensions":
		return len(p.WrongExtensions) > 0
	}
	return false
}

// HasDimensions reports whether any image dimension limit is declared
func (p FileParams) HasDimensions() bool {
	return p.MinWidth > 0 || p.MaxWidth > 0 || p.MinHeight > 0 || p.MaxHeight > 0
}

// Field is a classified form field. Kind selects which of the payload
// fields are meaningful:
//
//	String      MaxLength, MinLength, CaseSensitive, Localised
//	Int, Float  Range
//	Email       MaxLength, MinLength
//	Choice      Values, ValueInError
//	Multiselect Values
//	File        File
//	Foreign     Target
//	Related     Group
type Field struct {
	Name          string     `json:"name"`
	Kind          Kind       `json:"kind"`
	MaxLength     int        `json:"max_length,omitempty"`
	MinLength     int        `json:"min_length,omitempty"`
	Range         Range      `json:"range"`
	Values        []any      `json:"values,omitempty"`
	ValueInError  bool       `json:"value_in_error,omitempty"`
	File          FileParams `json:"file"`
	Target        string     `json:"target,omitempty"`
	Group         string     `json:"group,omitempty"`
	CaseSensitive bool       `json:"case_sensitive,omitempty"`
	Localised     bool       `json:"localised,omitempty"`
}

// IsText reports whether the field takes free text
func (f Field) IsText() bool {
	return f.Kind == KindString || f.Kind == KindEmail
}

// IsDigital reports whether the field is numeric
func (f Field) IsDigital() bool {
	return f.Kind == KindInt || f.Kind == KindFloat
}

// IsChoice reports whether the field takes values from a fixed set
func (f Field) IsChoice() bool {
	return f.Kind == KindChoice || f.Kind == KindMultiselect
}

// Set is an unordered set of field identifiers
type Set map[string]struct{}

// NewSet builds a set from names
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts names
func (s Set) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Sorted returns the members in sorted order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// BaseName strips a split-widget suffix (_0, _1) from a field name
func BaseName(name string) string {
	idx := strings.LastIndex(name, "_")
	if idx <= 0 {
		return name
	}
	switch name[idx+1:] {
	case "0", "1":
		return name[:idx]
	}
	return name
}
