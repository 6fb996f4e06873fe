package form

import (
	"reflect"
	"strings"
)

// Effective merges the shared attributes with the per-form section: a
// non-empty attribute in the section wins over the shared one.
func (d *Declaration) Effective(mode Mode) FormDecl {
	section := d.Add
	if mode == ModeEdit {
		section = d.Edit
	}
	out := d.FormDecl
	ov := reflect.ValueOf(&out).Elem()
	sv := reflect.ValueOf(section)
	for i := 0; i < sv.NumField(); i++ {
		if !sv.Field(i).IsZero() {
			ov.Field(i).Set(sv.Field(i))
		}
	}
	return out
}

// Lookup finds a declaration attribute by its yaml name. Form attributes
// accept an "_add" or "_edit" suffix and resolve to the effective value for
// that form; without a suffix they resolve to the shared value, falling back
// to the add form and then the edit form when the shared one is empty. Auth
// attributes are found by their own names, without the "auth" prefix.
func (d *Declaration) Lookup(name string) (any, bool) {
	if v, ok := lookupTag(reflect.ValueOf(d.FormDecl), name); ok {
		if !reflect.ValueOf(v).IsZero() {
			return v, true
		}
		if add, _ := lookupTag(reflect.ValueOf(d.Effective(ModeAdd)), name); !reflect.ValueOf(add).IsZero() {
			return add, true
		}
		return lookupTag(reflect.ValueOf(d.Effective(ModeEdit)), name)
	}
	for suffix, mode := range map[string]Mode{"_add": ModeAdd, "_edit": ModeEdit} {
		if base, found := strings.CutSuffix(name, suffix); found {
			if v, ok := lookupTag(reflect.ValueOf(d.Effective(mode)), base); ok {
				return v, true
			}
		}
	}
	if v, ok := lookupTag(reflect.ValueOf(*d), name); ok {
		return v, true
	}
	return lookupTag(reflect.ValueOf(d.Auth), name)
}

// IsSet reports whether the named attribute exists and is non-zero
func (d *Declaration) IsSet(name string) bool {
	v, ok := d.Lookup(name)
	if !ok || v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() > 0
	}
	return !rv.IsZero()
}

func lookupTag(v reflect.Value, name string) (any, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if sf.Anonymous && tag == "" {
			if inner, ok := lookupTag(v.Field(i), name); ok {
				return inner, true
			}
			continue
		}
		if tag == name {
			return v.Field(i).Interface(), true
		}
	}
	return nil, false
}
