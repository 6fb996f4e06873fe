package form

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sentinel is the type of the Empty placeholder.
type Sentinel struct{}

// String renders the sentinel the way it is submitted: as an empty value.
func (Sentinel) String() string { return "" }

// Empty marks a field that is submitted with no value
var Empty = Sentinel{}

// File is an in-memory upload
type File struct {
	Name        string `json:"name"`
	Content     []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`
	Path        string `json:"path,omitempty"` // on-disk copy, when one was written
}

// Size returns the payload size in bytes
func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Content))
}

// Ext returns the lower-case extension without the leading dot
func (f *File) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
}

// Clone returns a deep copy of the file
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	c.Content = append([]byte(nil), f.Content...)
	return &c
}

func (f *File) String() string {
	return fmt.Sprintf("%s (%d bytes)", f.Name, len(f.Content))
}

// Params maps field identifiers to submitted values. Values are strings,
// numbers, booleans, time.Time, *File, slices of those, or Empty.
type Params map[string]any

// Clone deep-copies the map; files and slices are copied as well
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *File:
		return val.Clone()
	case []*File:
		files := make([]*File, len(val))
		for i, f := range val {
			files[i] = f.Clone()
		}
		return files
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = cloneValue(item)
		}
		return items
	case []string:
		return append([]string(nil), val...)
	case map[string]any:
		return Params(val).Clone()
	case Params:
		return val.Clone()
	default:
		return v
	}
}

// Keys returns the keys in sorted order
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a copy of p overlaid with other
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = cloneValue(v)
	}
	return out
}

// HasFiles reports whether any value is a file or a list of files
func (p Params) HasFiles() bool {
	for _, v := range p {
		switch val := v.(type) {
		case *File:
			return true
		case []*File:
			return len(val) > 0
		case []any:
			for _, item := range val {
				if _, ok := item.(*File); ok {
					return true
				}
			}
		}
	}
	return false
}

// IsEmpty reports whether a value counts as "not filled" on a form
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case Sentinel:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case []*File:
		return len(val) == 0
	case *File:
		return val == nil
	default:
		return false
	}
}

// Render converts a scalar value to its submitted string form
func Render(v any) string {
	switch val := v.(type) {
	case nil, Sentinel:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "on"
		}
		return ""
	case time.Time:
		return val.Format(DefaultDateTimeFormat)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case *File:
		return val.Name
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// RenderList flattens a value to the list of strings submitted for it
func RenderList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, Render(item))
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return []string{Render(v)}
	}
}
