package testapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/auth"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/target"
)

func (s *Server) usernameField() string { return s.decl.Auth.UsernameField }
func (s *Server) passwordField() string { return s.decl.Auth.PasswordField }
func (s *Server) oldField() string      { return s.decl.Auth.OldPasswordField }
func (s *Server) newField() string      { return s.decl.Auth.NewPasswordField }
func (s *Server) repeatField() string   { return s.decl.Auth.RepeatPasswordField }
func (s *Server) emailField() string    { return s.decl.Auth.EmailField }

func (s *Server) loginURL() string {
	if s.decl.Auth.LoginURL == "" {
		return "/"
	}
	return s.decl.Auth.LoginURL
}

// clientHost returns the address failed logins are counted against
func clientHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// loginCaptcha reports whether host has failed often enough to face a CAPTCHA
func (s *Server) loginCaptcha(ctx context.Context, host string) bool {
	if !s.decl.Captcha.Enabled() {
		return false
	}
	n, err := s.cfg.Blacklist.Attempts(ctx, host)
	if err != nil {
		log.Error().Err(err).Str("host", host).Msg("failed to read login attempts")
		return true
	}
	return n >= s.decl.LoginRetries()
}

// required adds a Required error for every empty field and reports whether all were filled
func (s *Server) required(sub *submission, errs *formErrors, fields ...string) bool {
	ok := true
	for _, name := range fields {
		if sub.get(name) == "" {
			errs.add(name, messages.Required, s.locals(name))
			ok = false
		}
	}
	return ok
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, errs *formErrors) {
	p := page{}
	fc := plainForm(errs, s.usernameField(), s.passwordField())
	if s.loginCaptcha(r.Context(), clientHost(r)) {
		s.captchaFields(&p, &fc)
	}
	p.Forms = []formContext{fc}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, nil)
}

func (s *Server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	host := clientHost(r)
	errs := s.newErrors()

	if s.loginCaptcha(ctx, host) {
		s.checkCaptcha(sub, errs)
	}
	username, password := sub.get(s.usernameField()), sub.get(s.passwordField())
	if s.required(sub, errs, s.usernameField(), s.passwordField()) && errs.empty() {
		if _, err := s.cfg.Users.Authenticate(username, password); err != nil {
			kind := messages.WrongLogin
			if errors.Is(err, auth.ErrInactive) {
				kind = messages.InactiveUser
			}
			errs.add("", kind, s.locals(""))
			if _, err := s.cfg.Blacklist.Fail(ctx, host); err != nil {
				log.Error().Err(err).Str("host", host).Msg("failed to count login failure")
			}
		}
	}
	if !errs.empty() {
		s.renderLogin(w, r, errs)
		return
	}

	if err := s.cfg.Blacklist.Clear(ctx, host); err != nil {
		log.Error().Err(err).Str("host", host).Msg("failed to clear login failures")
	}
	if _, err := s.auth.Login(w, username); err != nil {
		log.Error().Err(err).Msg("failed to open session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	next := r.URL.Query().Get("next")
	if next == "" || !strings.HasPrefix(next, "/") {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(w, r)
	http.Redirect(w, r, s.loginURL(), http.StatusFound)
}

func (s *Server) protected(w http.ResponseWriter, r *http.Request) {
	p := page{Forms: []formContext{}}
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		p.User = session.Username
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) changeFields() []string {
	var fields []string
	if s.decl.Auth.CheckOldPassword {
		fields = append(fields, s.oldField())
	}
	return append(fields, s.newField(), s.repeatField())
}

func (s *Server) changePasswordForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, page{Forms: []formContext{plainForm(nil, s.changeFields()...)}})
}

func (s *Server) changePasswordSubmit(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, s.decl.Auth.LoginURL, http.StatusFound)
		return
	}
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := s.cfg.Users.Get(session.Username)
	if err != nil {
		http.Redirect(w, r, s.decl.Auth.LoginURL, http.StatusFound)
		return
	}

	errs := s.newErrors()
	if s.required(sub, errs, s.changeFields()...) {
		if s.decl.Auth.CheckOldPassword && !auth.PasswordMatches(user.PasswordHash, sub.get(s.oldField())) {
			errs.add(s.oldField(), messages.WrongOldPassword, s.locals(s.oldField()))
		}
		s.checkNewPassword(sub, errs, user)
	}
	if !errs.empty() {
		writeJSON(w, http.StatusOK, page{Forms: []formContext{plainForm(errs, s.changeFields()...)}})
		return
	}

	if err := s.cfg.Users.SetPassword(r.Context(), user.Username, sub.get(s.newField())); err != nil {
		log.Error().Err(err).Msg("failed to set password")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// checkNewPassword validates the new and repeated password of user,
// reporting under the repeat field
func (s *Server) checkNewPassword(sub *submission, errs *formErrors, user auth.User) {
	a := s.decl.Auth
	repeat := s.repeatField()
	password := sub.get(s.newField())
	if password != sub.get(repeat) {
		errs.add(repeat, messages.WrongPasswordRepeat, s.locals(repeat))
		return
	}
	n := utf8.RuneCountInString(password)
	if a.PasswordMinLength > 0 && n < a.PasswordMinLength {
		errs.add(repeat, messages.PasswordTooShort, s.locals(repeat, "length", a.PasswordMinLength))
		return
	}
	if a.PasswordMaxLength > 0 && n > a.PasswordMaxLength {
		errs.add(repeat, messages.PasswordTooLong, s.locals(repeat, "length", a.PasswordMaxLength))
		return
	}

	attrs := map[string]string{"username": user.Username, "email": user.Email}
	names := make([]string, 0, len(a.PasswordSimilarFields))
	for name := range a.PasswordSimilarFields {
		names = append(names, name)
	}
	sort.Strings(names)
	lowered := strings.ToLower(password)
	for _, name := range names {
		value := strings.ToLower(attrs[name])
		if value != "" && strings.Contains(lowered, value) {
			errs.add(repeat, messages.WrongPasswordSimilar, s.locals(repeat, "verbose_field", a.PasswordSimilarFields[name]))
			return
		}
	}
}

func (s *Server) renderReset(w http.ResponseWriter, errs *formErrors) {
	p := page{}
	fc := plainForm(errs, s.emailField())
	if s.decl.Captcha.Enabled() {
		s.captchaFields(&p, &fc)
	}
	p.Forms = []formContext{fc}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) resetForm(w http.ResponseWriter, r *http.Request) {
	s.renderReset(w, nil)
}

func (s *Server) resetSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	field := s.emailField()
	errs := s.newErrors()
	if s.decl.Captcha.Enabled() {
		s.checkCaptcha(sub, errs)
	}
	email := sub.get(field)
	if s.required(sub, errs, field) && !emailPattern.MatchString(email) {
		errs.add(field, messages.WrongValueEmail, s.locals(field, "value", email))
	}
	if !errs.empty() {
		s.renderReset(w, errs)
		return
	}

	user, err := s.cfg.Users.ByEmail(email)
	switch {
	case err != nil && s.decl.HidesAccounts():
		http.Redirect(w, r, s.successResetURL(), http.StatusFound)
		return
	case err != nil:
		errs.add(field, messages.UserNotExists, s.locals(field))
	case !user.Active && s.decl.HidesAccounts():
		http.Redirect(w, r, s.successResetURL(), http.StatusFound)
		return
	case !user.Active:
		errs.add(field, messages.InactiveUser, s.locals(field))
	}
	if !errs.empty() {
		s.renderReset(w, errs)
		return
	}

	code, err := s.cfg.Users.IssueResetCode(user.Username)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue reset code")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	link := fmt.Sprintf("http://%s%s/%s/%s/", r.Host, strings.TrimSuffix(s.decl.Auth.ResetURL, "/"),
		strconv.FormatInt(user.ID, 36), code)
	msg := target.Mail{
		To:      []string{user.Email},
		Subject: "Password reset",
		Body:    "Follow the link below to choose a new password:\n\n" + link + "\n",
	}
	if err := s.cfg.Mail.Send(r.Context(), msg); err != nil {
		log.Error().Err(err).Msg("failed to send reset mail")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.successResetURL(), http.StatusFound)
}

func (s *Server) successResetURL() string {
	return strings.TrimSuffix(s.decl.Auth.ResetURL, "/") + "/done/"
}

// resetUser resolves the owner of the link in the URL
func (s *Server) resetUser(r *http.Request) (auth.User, string, bool) {
	code := chi.URLParam(r, "code")
	user, err := s.cfg.Users.CheckResetCode(code, s.decl.Auth.CodeLifetime())
	if err != nil {
		return auth.User{}, "", false
	}
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 36, 64)
	if err != nil || uid != user.ID || !user.Active {
		return auth.User{}, "", false
	}
	return user, code, true
}

func (s *Server) confirmFields() []string {
	return []string{s.newField(), s.repeatField()}
}

func (s *Server) resetConfirmForm(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.resetUser(r); !ok {
		s.notFound(w, messages.NotExist)
		return
	}
	writeJSON(w, http.StatusOK, page{Forms: []formContext{plainForm(nil, s.confirmFields()...)}})
}

func (s *Server) resetConfirmSubmit(w http.ResponseWriter, r *http.Request) {
	user, code, ok := s.resetUser(r)
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
	if s.required(sub, errs, s.confirmFields()...) {
		s.checkNewPassword(sub, errs, user)
	}
	if !errs.empty() {
		writeJSON(w, http.StatusOK, page{Forms: []formContext{plainForm(errs, s.confirmFields()...)}})
		return
	}
	if err := s.cfg.Users.RedeemResetCode(code, sub.get(s.newField()), s.decl.Auth.CodeLifetime()); err != nil {
		s.notFound(w, messages.NotExist)
		return
	}
	http.Redirect(w, r, s.loginURL(), http.StatusFound)
}
