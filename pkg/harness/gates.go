package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
)

// Gate decides whether a case applies to the suite. A non-nil error skips
// the case with the error as the reason.
type Gate func(ctx context.Context, h *Harness) error

// WithObj requires the row the object flows work on
func WithObj() Gate {
	return func(ctx context.Context, h *Harness) error {
		if h.Suite.Entity == nil {
			return errors.New("no entity")
		}
		_, err := h.object(ctx)
		return err
	}
}

// With requires every named declaration attribute to be set
func With(names ...string) Gate {
	return func(_ context.Context, h *Harness) error {
		var missing []string
		for _, name := range names {
			if !h.Suite.Decl.IsSet(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s not set", strings.Join(missing, ", "))
		}
		return nil
	}
}

// WithModel requires the form view of mode to satisfy ok. Unlike With it
// sees what the classifier derived from the schema and the defaults.
func WithModel(mode form.Mode, reason string, ok func(v *form.View) bool) Gate {
	return func(_ context.Context, h *Harness) error {
		if h.Model == nil {
			return errors.New("no field model")
		}
		if v := h.Model.View(mode); v == nil || !ok(v) {
			return errors.New(reason)
		}
		return nil
	}
}

func withDigital(mode form.Mode) Gate {
	return WithModel(mode, "no digital fields", func(v *form.View) bool {
		return anyField(v, func(f form.Field) bool { return f.IsDigital() })
	})
}

func withMaxLength(mode form.Mode) Gate {
	return WithModel(mode, "no text field has a max length", func(v *form.View) bool {
		return anyField(v, func(f form.Field) bool { return f.IsText() && f.MaxLength > 0 })
	})
}

func withMinLength(mode form.Mode) Gate {
	return WithModel(mode, "no text field has a min length", func(v *form.View) bool {
		return anyField(v, func(f form.Field) bool { return f.IsText() && f.MinLength > 0 })
	})
}

func withUnique(mode form.Mode) Gate {
	return WithModel(mode, "no unique fields", func(v *form.View) bool { return len(v.Unique) > 0 })
}

func withDisabled(mode form.Mode) Gate {
	return WithModel(mode, "no disabled fields", func(v *form.View) bool { return len(v.Disabled) > 0 })
}

func withOneOf(mode form.Mode) Gate {
	return WithModel(mode, "no one-of groups", func(v *form.View) bool { return len(v.OneOf) > 0 })
}

func anyField(v *form.View, ok func(form.Field) bool) bool {
	for _, name := range v.All {
		if f, found := v.Fields[name]; found && v.Visible(name) && ok(f) {
			return true
		}
	}
	return false
}

// WithFilesParams requires a file field declaring every key
func WithFilesParams(keys ...string) Gate {
	return func(_ context.Context, h *Harness) error {
		for _, f := range h.fileFields() {
			if hasAll(f.File, keys) {
				return nil
			}
		}
		return fmt.Errorf("no file field declares %s", strings.Join(keys, ", "))
	}
}

// WithAnyFilesParams requires a file field declaring at least one key
func WithAnyFilesParams(keys ...string) Gate {
	return func(_ context.Context, h *Harness) error {
		for _, f := range h.fileFields() {
			for _, k := range keys {
				if f.File.Has(k) {
					return nil
				}
			}
		}
		return fmt.Errorf("no file field declares any of %s", strings.Join(keys, ", "))
	}
}

// GateAll returns cases with gates appended to each
func GateAll(cases []Case, gates ...Gate) []Case {
	out := make([]Case, len(cases))
	for i, c := range cases {
		c.Gates = append(append([]Gate(nil), c.Gates...), gates...)
		out[i] = c
	}
	return out
}

func withFiles(_ context.Context, h *Harness) error {
	if len(h.fileFields()) == 0 {
		return errors.New("no file fields")
	}
	return nil
}

func withEntity(_ context.Context, h *Harness) error {
	if h.Suite.Entity == nil {
		return errors.New("no entity")
	}
	return nil
}

func withUsers(_ context.Context, h *Harness) error {
	switch {
	case h.Suite.Users == nil:
		return errors.New("no user directory")
	case h.Suite.Decl.Auth.Username == "" || h.Suite.Decl.Auth.Password == "":
		return errors.New("no account credentials declared")
	}
	return nil
}

func withOutbox(_ context.Context, h *Harness) error {
	if h.Suite.Outbox == nil {
		return errors.New("no mail outbox")
	}
	return nil
}

func withBlacklist(_ context.Context, h *Harness) error {
	if h.Suite.Blacklist == nil {
		return errors.New("no login blacklist")
	}
	return nil
}

func withCaptcha(_ context.Context, h *Harness) error {
	switch {
	case !h.Suite.Decl.Captcha.Enabled():
		return errors.New("captcha disabled")
	case h.Suite.Captcha == nil:
		return errors.New("no captcha solver")
	}
	return nil
}

// fileFields returns the file fields of both forms, add first
func (h *Harness) fileFields() []form.Field {
	seen := form.NewSet()
	var out []form.Field
	for _, v := range []*form.View{h.Model.Add, h.Model.Edit} {
		if v == nil {
			continue
		}
		for _, f := range v.FileFields() {
			if !seen.Has(f.Name) {
				seen.Add(f.Name)
				out = append(out, f)
			}
		}
	}
	return out
}

func hasAll(p form.FileParams, keys []string) bool {
	for _, k := range keys {
		if !p.Has(k) {
			return false
		}
	}
	return true
}
