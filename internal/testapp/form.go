package testapp

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
)

// submission is a parsed POST body, url-encoded or multipart
type submission struct {
	values url.Values
	files  map[string][]*multipart.FileHeader
}

func parseSubmission(r *http.Request) (*submission, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	sub := &submission{values: r.PostForm}
	if r.MultipartForm != nil {
		sub.files = r.MultipartForm.File
	}
	return sub, nil
}

func (s *submission) get(name string) string {
	return s.values.Get(name)
}

// list returns the non-empty values submitted under name
func (s *submission) list(name string) []string {
	var out []string
	for _, v := range s.values[name] {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// formErrors collects rendered error messages by form key
type formErrors struct {
	catalogue *messages.Catalogue
	byKey     map[string][]string
}

func (s *Server) newErrors() *formErrors {
	return &formErrors{catalogue: s.cfg.Catalogue, byKey: make(map[string][]string)}
}

// add renders kind for field; an empty field is a non-field error
func (e *formErrors) add(field string, kind messages.Kind, locals messages.Locals) {
	resolved, err := e.catalogue.Resolve(kind, field, locals)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Str("field", field).Msg("failed to render form error")
		key := field
		if key == "" {
			key = e.catalogue.NonFieldKey()
		}
		resolved = map[string][]string{key: {string(kind)}}
	}
	for k, msgs := range resolved {
		e.byKey[k] = append(e.byKey[k], msgs...)
	}
}

func (e *formErrors) has(field string) bool {
	return len(e.byKey[field]) > 0
}

func (e *formErrors) empty() bool {
	return len(e.byKey) == 0
}

// locals returns the template values every message may reference plus extra pairs
func (s *Server) locals(field string, pairs ...any) messages.Locals {
	l := messages.Locals{
		"verbose_obj":   s.model.VerboseObject(),
		"verbose_field": s.model.VerboseField(field),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		l[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return l
}

func (s *Server) verboseGroup(fields []string, sep string) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, s.model.VerboseField(f))
	}
	return strings.Join(names, sep)
}

// message renders a flash message
func (s *Server) message(kind messages.Kind, locals messages.Locals) string {
	msgs, err := s.cfg.Catalogue.Messages(kind, "", locals)
	if err != nil || len(msgs) == 0 {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to render message")
		return string(kind)
	}
	return msgs[0]
}

// split reports whether the field is rendered as a date and a time input
func split(view *form.View, name string) bool {
	_, ok := view.Defaults[name+"_0"]
	return ok
}

// entityForm renders the inputs of a view
func (s *Server) entityForm(view *form.View, errs *formErrors) formContext {
	fc := formContext{Fields: []string{}}
	add := func(name string) {
		inputs := []string{name}
		if split(view, name) {
			inputs = []string{name + "_0", name + "_1"}
		}
		for _, input := range inputs {
			switch {
			case view.Hidden.Has(name):
				fc.Hidden = append(fc.Hidden, input)
			case view.Disabled.Has(name):
				fc.Fields = append(fc.Fields, input)
				fc.Disabled = append(fc.Disabled, input)
			default:
				fc.Fields = append(fc.Fields, input)
			}
		}
	}
	seen := form.NewSet()
	for _, name := range view.All {
		seen.Add(name)
		add(name)
	}
	for _, name := range append(view.Hidden.Sorted(), view.Disabled.Sorted()...) {
		if !seen.Has(name) {
			seen.Add(name)
			add(name)
		}
	}
	if errs != nil && !errs.empty() {
		fc.Errors = errs.byKey
	}
	return fc
}

// plainForm renders a form of visible inputs
func plainForm(errs *formErrors, fields ...string) formContext {
	fc := formContext{Fields: fields}
	if errs != nil && !errs.empty() {
		fc.Errors = errs.byKey
	}
	return fc
}
