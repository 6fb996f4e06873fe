// Package testapp is a small form application driven by a form declaration.
// It serves the add, edit, delete, remove and list pages of one entity plus
// the login and password pages, validates submissions the way a typical web
// framework does, and answers with a JSON form context that inspect.JSON
// reads. The harness runs its own end-to-end tests against it.
package testapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/QTest-hq/formprobe/internal/auth"
	"github.com/QTest-hq/formprobe/internal/classify"
	"github.com/QTest-hq/formprobe/internal/mail"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/store"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

const maxUploadMemory = 32 << 20

// Config wires the application's collaborators. Nil collaborators are
// replaced with in-memory ones.
type Config struct {
	Declaration form.Declaration
	Schema      []target.FieldSchema
	Catalogue   *messages.Catalogue
	Entity      *store.Memory
	Users       *auth.MemoryUsers
	Blacklist   auth.Counter
	Mail        mail.Sender
	Sessions    *auth.SessionStore
}

// Server represents the application
type Server struct {
	cfg      Config
	decl     *form.Declaration
	model    *form.FieldModel
	router   *chi.Mux
	auth     *auth.Middleware
	captchas *challenges
}

// New creates the application for cfg.Declaration
func New(cfg Config) (*Server, error) {
	model, err := classify.Build(cfg.Declaration, cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build field model: %w", err)
	}
	if cfg.Catalogue == nil {
		cfg.Catalogue = messages.New(cfg.Declaration.CustomErrorMessages, nil, model.NonFieldKey)
	}
	if cfg.Entity == nil {
		cfg.Entity = store.NewMemory(cfg.Declaration.Name, cfg.Schema)
	}
	if cfg.Users == nil {
		cfg.Users = auth.NewMemoryUsers(bcrypt.MinCost)
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = auth.NewMemoryBlacklist()
	}
	if cfg.Mail == nil {
		cfg.Mail = mail.NewMemory()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = auth.NewSessionStore(time.Hour)
	}

	cfg.Declaration.Auth = cfg.Declaration.Auth.WithDefaults()

	s := &Server{
		cfg:      cfg,
		decl:     &cfg.Declaration,
		model:    model,
		router:   chi.NewRouter(),
		auth:     auth.NewMiddleware(cfg.Sessions, cfg.Declaration.Auth.LoginURL),
		captchas: newChallenges(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

// Model returns the field model the application validates against
func (s *Server) Model() *form.FieldModel {
	return s.model
}

// Entity returns the table behind the forms
func (s *Server) Entity() *store.Memory {
	return s.cfg.Entity
}

// Users returns the account directory
func (s *Server) Users() *auth.MemoryUsers {
	return s.cfg.Users
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	d := s.decl

	if d.URLList != "/" {
		s.router.With(s.auth.OptionalLogin).Get("/", s.home)
	}
	if d.URLAdd != "" {
		s.router.Get(d.URLAdd, s.addForm)
		s.router.Post(d.URLAdd, s.addSubmit)
	}
	if d.URLEdit != "" {
		s.router.Get(d.URLEdit, s.editForm)
		s.router.Post(d.URLEdit, s.editSubmit)
	}
	if d.URLDelete != "" {
		s.router.Post(d.URLDelete, s.deleteObject)
	}
	if d.URLRemove != "" {
		s.router.Post(d.URLRemove, s.removeObject)
	}
	if d.URLList != "" {
		s.router.Get(d.URLList, s.listObjects)
	}

	a := d.Auth
	if a.LoginURL != "" {
		s.router.Get(a.LoginURL, s.loginForm)
		s.router.Post(a.LoginURL, s.loginSubmit)
	}
	if a.LogoutURL != "" {
		s.router.HandleFunc(a.LogoutURL, s.logout)
	}
	if a.ProtectedURL != "" {
		s.router.With(s.auth.RequireLogin).Get(a.ProtectedURL, s.protected)
	}
	if a.ChangePasswordURL != "" {
		s.router.Group(func(r chi.Router) {
			r.Use(s.auth.RequireLogin)
			r.Get(a.ChangePasswordURL, s.changePasswordForm)
			r.Post(a.ChangePasswordURL, s.changePasswordSubmit)
		})
	}
	if a.ResetURL != "" {
		s.router.Get(a.ResetURL, s.resetForm)
		s.router.Post(a.ResetURL, s.resetSubmit)
		s.router.Get(s.successResetURL(), s.resetDone)
		confirm := ResetConfirmPattern(a.ResetURL)
		s.router.Get(confirm, s.resetConfirmForm)
		s.router.Post(confirm, s.resetConfirmSubmit)
	}
}

// ResetConfirmPattern returns the route of reset links below resetURL
func ResetConfirmPattern(resetURL string) string {
	return strings.TrimSuffix(resetURL, "/") + "/{uid}/{code}/"
}

// successURL is where accepted submissions redirect to
func (s *Server) successURL() string {
	switch {
	case s.decl.URLRedirect != "":
		return s.decl.URLRedirect
	case s.decl.URLList != "":
		return s.decl.URLList
	}
	return "/"
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	p := page{}
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		p.User = session.Username
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) resetDone(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, page{Forms: []formContext{}})
}

// formContext is one form as inspect.JSON reads it
type formContext struct {
	Prefix   string              `json:"prefix"`
	Fields   []string            `json:"fields"`
	Hidden   []string            `json:"hidden,omitempty"`
	Disabled []string            `json:"disabled,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

// page is the JSON document every view answers with
type page struct {
	Forms    []formContext `json:"forms"`
	Messages []string      `json:"messages,omitempty"`
	Objects  []string      `json:"objects,omitempty"`
	Captcha  *challenge    `json:"captcha,omitempty"`
	User     string        `json:"user,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
