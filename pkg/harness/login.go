package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"testing"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/probe"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// auth returns the auth attributes with default field names
func (h *Harness) auth() form.AuthDecl {
	return h.Suite.Decl.Auth.WithDefaults()
}

// credentials returns login params for username and password
func (h *Harness) credentials(username, password string) form.Params {
	a := h.auth()
	return form.Params{a.UsernameField: username, a.PasswordField: password}
}

// logout ends the client session, when a logout page is declared
func (h *Harness) logout(ctx context.Context) error {
	u := h.Suite.Decl.Auth.LogoutURL
	if u == "" {
		return nil
	}
	if _, err := h.Suite.Client.Get(ctx, u, h.headers()); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// login signs in with the declared account
func (h *Harness) login(ctx context.Context, t *testing.T, flow string) {
	t.Helper()
	a := h.auth()
	s := h.pageScenario(t, flow, a.LoginURL, h.loginGuarded())
	resp, snap, err := s.Submit(ctx, h.credentials(a.Username, a.Password))
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}
	if err := accepted(resp, snap); err != nil {
		t.Fatalf("failed to log in as %s: %v", a.Username, err)
	}
}

// loggedIn reports whether the protected page answers without sending the
// client to the login page
func (h *Harness) loggedIn(ctx context.Context) (bool, error) {
	u := h.Suite.Decl.Auth.ProtectedURL
	resp, err := h.Suite.Client.Get(ctx, u, h.headers())
	if err != nil {
		return false, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	return resp.StatusCode == http.StatusOK && !resp.Redirected(), nil
}

// clearBlacklist forgets the failed logins of the client host when the test ends
func (h *Harness) clearBlacklist(t *testing.T) {
	if h.Suite.Blacklist == nil {
		return
	}
	t.Cleanup(func() {
		if err := h.Suite.Blacklist.Clear(context.Background(), h.clientHost()); err != nil {
			t.Errorf("failed to clear login failures: %v", err)
		}
	})
}

// expectErrors submits params and compares the form errors with expect
func expectErrors(ctx context.Context, s *scenario.Scenario, params form.Params, expect ...probe.Expect) error {
	_, snap, err := s.Submit(ctx, params)
	if err != nil {
		return err
	}
	want, err := s.Expected(expect...)
	if err != nil {
		return err
	}
	got := make(map[string][]string, len(snap.Errors))
	for k, v := range snap.Errors {
		if len(v) > 0 {
			got[k] = v
		}
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("form errors differ\n want: %v\n  got: %v", want, got)
	}
	return nil
}

// loginCase runs fn on a scenario posting to the login page. The session
// and the failed logins of the client host are reset around it.
func loginCase(flow, name string, captcha bool, fn func(ctx context.Context, h *Harness, s *scenario.Scenario) error, gates ...Gate) Case {
	return Case{
		Name:  name,
		Gates: append([]Gate{With("login_url"), withUsers}, gates...),
		Run: func(t *testing.T, h *Harness) {
			ctx := t.Context()
			h.clearBlacklist(t)
			if err := h.logout(ctx); err != nil {
				t.Fatalf("%v", err)
			}
			s := h.pageScenario(t, flow, h.auth().LoginURL, captcha || h.loginGuarded())
			defer s.Finish()
			s.Step(name, func() error { return fn(ctx, h, s) })
		},
	}
}

func loginLogout(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	resp, snap, err := s.Submit(ctx, h.credentials(a.Username, a.Password))
	if err != nil {
		return err
	}
	if err := accepted(resp, snap); err != nil {
		return err
	}
	if a.ProtectedURL == "" {
		return nil
	}
	ok, err := h.loggedIn(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not reachable after login", a.ProtectedURL)
	}
	if a.LogoutURL == "" {
		return nil
	}
	if err := h.logout(ctx); err != nil {
		return err
	}
	if ok, err = h.loggedIn(ctx); err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s is still reachable after logout", a.ProtectedURL)
	}
	return nil
}

// failuresCleared checks that a successful login forgets earlier failures
func failuresCleared(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	bl := h.Suite.Blacklist
	if err := expectErrors(ctx, s, h.credentials(a.Username, h.wrongPassword()),
		probe.Expect{Kind: messages.WrongLogin}); err != nil {
		return fmt.Errorf("wrong password: %w", err)
	}
	n, err := bl.Attempts(ctx, h.clientHost())
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%d failed logins recorded for %s, want at least 1", n, h.clientHost())
	}
	resp, snap, err := s.Submit(ctx, h.credentials(a.Username, a.Password))
	if err != nil {
		return err
	}
	if err := accepted(resp, snap); err != nil {
		return err
	}
	if n, err = bl.Attempts(ctx, h.clientHost()); err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("%d failed logins still recorded after a successful login", n)
	}
	return nil
}

func (h *Harness) wrongPassword() string {
	return h.auth().Password + h.Data.String(6, true)
}

func wrongPasswordLogin(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	return expectErrors(ctx, s, h.credentials(h.auth().Username, h.wrongPassword()),
		probe.Expect{Kind: messages.WrongLogin})
}

func unknownUserLogin(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	return expectErrors(ctx, s, h.credentials("nobody"+h.Data.Digits(8), h.auth().Password),
		probe.Expect{Kind: messages.WrongLogin})
}

// emptyLogin submits each credential field empty in turn, then both
func emptyLogin(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	fields := []string{a.UsernameField, a.PasswordField}
	for _, field := range fields {
		params := h.credentials(a.Username, a.Password)
		params[field] = ""
		s.Step("empty "+field, func() error {
			return expectErrors(ctx, s, params, probe.Expect{Kind: messages.Required, Field: field, Locals: h.locals(field)})
		})
	}
	return expectErrors(ctx, s, form.Params{},
		probe.Expect{Kind: messages.Required, Field: a.UsernameField, Locals: h.locals(a.UsernameField)},
		probe.Expect{Kind: messages.Required, Field: a.PasswordField, Locals: h.locals(a.PasswordField)})
}

func inactiveLogin(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	users := h.Suite.Users
	if err := users.SetActive(ctx, a.Username, false); err != nil {
		return err
	}
	defer func() {
		if err := users.SetActive(context.Background(), a.Username, true); err != nil {
			s.Failf("reactivate", "failed to reactivate %s: %v", a.Username, err)
		}
	}()
	return expectErrors(ctx, s, h.credentials(a.Username, a.Password), probe.Expect{Kind: messages.InactiveUser})
}

// captchaAfterRetries fails the login until the form demands a CAPTCHA,
// then checks that a missing answer is refused and a solved one accepted
func captchaAfterRetries(ctx context.Context, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	retries := h.Suite.Decl.LoginRetries()
	prefix := h.Suite.Decl.Captcha.Prefix()

	for i := 0; i < retries; i++ {
		resp, err := h.Suite.Client.Post(ctx, a.LoginURL, h.credentials(a.Username, h.wrongPassword()), true, h.headers())
		if err != nil {
			return err
		}
		if i < retries-1 {
			if shown, err := h.captchaShown(resp, prefix); err != nil {
				return err
			} else if shown {
				return fmt.Errorf("captcha shown after %d failed logins, want after %d", i+1, retries)
			}
		}
	}

	page, err := h.Suite.Client.Get(ctx, a.LoginURL, h.headers())
	if err != nil {
		return err
	}
	shown, err := h.captchaShown(page, prefix)
	if err != nil {
		return err
	}
	if !shown {
		return fmt.Errorf("no captcha after %d failed logins", retries)
	}

	// posted directly so the scenario does not solve it
	resp, err := h.Suite.Client.Post(ctx, a.LoginURL, h.credentials(a.Username, a.Password), true, h.headers())
	if err != nil {
		return err
	}
	snap, err := h.Suite.Inspector.Inspect(resp)
	if err != nil {
		return err
	}
	want, err := s.Expected(probe.Expect{Kind: messages.WrongCaptcha, Field: prefix, Locals: h.locals(prefix)})
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(want[prefix], snap.Errors[prefix]) {
		return fmt.Errorf("unsolved captcha: errors %v, want %v", snap.Errors, want)
	}

	resp, snap, err = s.Submit(ctx, h.credentials(a.Username, a.Password))
	if err != nil {
		return err
	}
	return accepted(resp, snap)
}

func (h *Harness) captchaShown(resp *target.Response, prefix string) (bool, error) {
	snap, err := h.Suite.Inspector.Inspect(resp)
	if err != nil {
		return false, err
	}
	return slices.Contains(snap.AllFields, prefix+"_1"), nil
}

// loginGuarded reports whether the login form demands a CAPTCHA before any
// failure
func (h *Harness) loginGuarded() bool {
	return h.Suite.Decl.Captcha.Enabled() && h.Suite.Decl.LoginRetries() <= 0
}

func withRetries(_ context.Context, h *Harness) error {
	if h.Suite.Decl.LoginRetries() <= 0 {
		return errors.New("no login retries before captcha declared")
	}
	return nil
}

var (
	// LoginPositive signs in and out with the declared account
	LoginPositive = Flow{Name: FlowLoginPositive, Cases: []Case{
		loginCase(FlowLoginPositive, "login_logout", false, loginLogout),
		loginCase(FlowLoginPositive, "failures_cleared", false, failuresCleared, withBlacklist),
	}}

	// LoginNegative submits credentials the login form must refuse
	LoginNegative = Flow{Name: FlowLoginNegative, Cases: []Case{
		loginCase(FlowLoginNegative, "wrong_password", false, wrongPasswordLogin),
		loginCase(FlowLoginNegative, "unknown_user", false, unknownUserLogin),
		loginCase(FlowLoginNegative, "empty_fields", false, emptyLogin),
		loginCase(FlowLoginNegative, "inactive_user", false, inactiveLogin),
		loginCase(FlowLoginNegative, "captcha_after_retries", true, captchaAfterRetries, withCaptcha, withBlacklist, withRetries),
	}}
)
