package testapp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// Remove actions accepted by the soft-delete endpoint
const (
	actionRemove  = "remove"
	actionRestore = "restore"
)

func (s *Server) renderEntity(w http.ResponseWriter, status int, view *form.View, errs *formErrors) {
	p := page{}
	fc := s.entityForm(view, errs)
	if s.guarded() {
		s.captchaFields(&p, &fc)
	}
	p.Forms = []formContext{fc}
	writeJSON(w, status, p)
}

func (s *Server) addForm(w http.ResponseWriter, r *http.Request) {
	s.renderEntity(w, http.StatusOK, s.model.Add, nil)
}

func (s *Server) addSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	errs := s.newErrors()
	if s.guarded() {
		s.checkCaptcha(sub, errs)
	}
	values, err := s.validate(r.Context(), s.model.Add, sub, errs, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to validate submission")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !errs.empty() {
		s.renderEntity(w, http.StatusOK, s.model.Add, errs)
		return
	}

	rec := s.cfg.Entity.Insert(values, nil)
	log.Debug().Str("entity", s.cfg.Entity.Name()).Interface("pk", rec.PK).Msg("object created")
	http.Redirect(w, r, s.successURL(), http.StatusFound)
}

// object loads the row named by the pk URL parameter
func (s *Server) object(r *http.Request) (target.Record, bool) {
	rec, err := s.cfg.Entity.Get(r.Context(), chi.URLParam(r, "pk"))
	if err != nil {
		if !errors.Is(err, target.ErrNotFound) {
			log.Error().Err(err).Msg("failed to load object")
		}
		return target.Record{}, false
	}
	return rec, true
}

func (s *Server) notFound(w http.ResponseWriter, kind messages.Kind) {
	writeJSON(w, http.StatusNotFound, page{
		Forms:    []formContext{},
		Messages: []string{s.message(kind, s.locals(""))},
	})
}

func (s *Server) editForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.object(r); !ok {
		s.notFound(w, messages.NotExist)
		return
	}
	s.renderEntity(w, http.StatusOK, s.model.Edit, nil)
}

func (s *Server) editSubmit(w http.ResponseWriter, r *http.Request) {
	current, ok := s.object(r)
	if !ok {
		s.notFound(w, messages.NotExist)
		return
	}
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	errs := s.newErrors()
	if s.guarded() {
		s.checkCaptcha(sub, errs)
	}
	values, err := s.validate(r.Context(), s.model.Edit, sub, errs, &current)
	if err != nil {
		log.Error().Err(err).Msg("failed to validate submission")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !errs.empty() {
		s.renderEntity(w, http.StatusOK, s.model.Edit, errs)
		return
	}

	merged := make(map[string]any, len(current.Values)+len(values))
	for k, v := range current.Values {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	if err := s.cfg.Entity.Replace(current.PK, merged, current.Related); err != nil {
		log.Error().Err(err).Msg("failed to save object")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.successURL(), http.StatusFound)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.object(r)
	if !ok {
		s.notFound(w, messages.DeleteNotExists)
		return
	}
	if err := s.cfg.Entity.Delete(r.Context(), rec.PK); err != nil {
		if errors.Is(err, target.ErrNotFound) {
			s.notFound(w, messages.DeleteNotExists)
			return
		}
		log.Error().Err(err).Msg("failed to delete object")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.successURL(), http.StatusFound)
}

// removeObject flips the soft-delete flag. The action form value selects
// remove (the default) or restore.
func (s *Server) removeObject(w http.ResponseWriter, r *http.Request) {
	field := s.decl.RemoveField
	if field == "" {
		http.NotFound(w, r)
		return
	}
	action := r.FormValue("action")
	if action == "" {
		action = actionRemove
	}
	if action != actionRemove && action != actionRestore {
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}

	rec, ok := s.object(r)
	removed := ok && truthy(rec.Values[field])
	switch {
	case action == actionRemove && (!ok || removed):
		s.notFound(w, messages.DeleteNotExists)
		return
	case action == actionRestore && (!ok || !removed):
		s.notFound(w, messages.RecoveryNotExists)
		return
	}

	if err := s.cfg.Entity.Update(r.Context(), rec.PK, map[string]any{field: action == actionRemove}); err != nil {
		log.Error().Err(err).Msg("failed to update object")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.successURL(), http.StatusFound)
}

// listObjects lists the keys of rows matching the query parameters,
// leaving out soft-deleted rows
func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	where := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			where[k] = v[0]
		}
	}
	rows, err := s.cfg.Entity.Filter(r.Context(), where)
	if err != nil {
		log.Error().Err(err).Msg("failed to list objects")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p := page{Forms: []formContext{}, Objects: []string{}}
	for _, row := range rows {
		if s.decl.RemoveField != "" && truthy(row.Values[s.decl.RemoveField]) {
			continue
		}
		p.Objects = append(p.Objects, fmt.Sprint(row.PK))
	}
	writeJSON(w, http.StatusOK, p)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "on" || val == "1"
	case int64:
		return val != 0
	}
	return false
}
