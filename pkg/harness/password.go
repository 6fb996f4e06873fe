package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/probe"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/pkg/form"
)

// defaultResetLink finds the first absolute URL of a reset mail
var defaultResetLink = regexp.MustCompile(`https?://[^\s"'<>]+`)

const (
	defaultPasswordLength = 12
	maxPasswordAttempts   = 100
)

// passwordStep is one check of a password flow
type passwordStep func(ctx context.Context, t *testing.T, h *Harness, s *scenario.Scenario) error

// newPassword returns a password the declared length and similarity rules
// accept. It gives up when the account attributes leave no room for one.
func (h *Harness) newPassword() (string, error) {
	a := h.auth()
	n := defaultPasswordLength
	if a.PasswordMinLength > n {
		n = a.PasswordMinLength
	}
	if a.PasswordMaxLength > 0 && n > a.PasswordMaxLength {
		n = a.PasswordMaxLength
	}
	return h.pickPassword(func() string { return h.Data.String(n, true) })
}

// pickPassword draws candidates from next until one is neither similar to
// the account nor its current password
func (h *Harness) pickPassword(next func() string) (string, error) {
	a := h.auth()
	for i := 0; i < maxPasswordAttempts; i++ {
		p := next()
		if !h.similar(p) && p != a.Password {
			return p, nil
		}
	}
	return "", fmt.Errorf("no acceptable password for %s after %d attempts", a.Username, maxPasswordAttempts)
}

// newPasswordPair returns two different acceptable passwords
func (h *Harness) newPasswordPair() (string, string, error) {
	first, err := h.newPassword()
	if err != nil {
		return "", "", err
	}
	for i := 0; i < maxPasswordAttempts; i++ {
		second, err := h.newPassword()
		if err != nil {
			return "", "", err
		}
		if second != first {
			return first, second, nil
		}
	}
	return "", "", errors.New("no second distinct password")
}

// similar reports whether p contains an attribute the password must not resemble
func (h *Harness) similar(p string) bool {
	lowered := strings.ToLower(p)
	for _, v := range h.similarValues() {
		if v != "" && strings.Contains(lowered, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

// similarValues maps the declared similarity attributes to the account's values
func (h *Harness) similarValues() map[string]string {
	a := h.auth()
	out := make(map[string]string, len(a.PasswordSimilarFields))
	for name := range a.PasswordSimilarFields {
		switch name {
		case "username":
			out[name] = a.Username
		case "email":
			out[name] = a.Email
		}
	}
	return out
}

// restorePassword sets the declared password back when the test ends
func (h *Harness) restorePassword(t *testing.T) {
	a := h.auth()
	t.Cleanup(func() {
		if err := h.Suite.Users.SetPassword(context.Background(), a.Username, a.Password); err != nil {
			t.Errorf("failed to restore password of %s: %v", a.Username, err)
		}
	})
}

// passwordIs checks which password the account accepts
func (h *Harness) passwordIs(ctx context.Context, password string) error {
	a := h.auth()
	ok, err := h.Suite.Users.CheckPassword(ctx, a.Username, password)
	if err != nil {
		return fmt.Errorf("failed to check password of %s: %w", a.Username, err)
	}
	if !ok {
		return fmt.Errorf("%s does not have the expected password", a.Username)
	}
	return nil
}

// newPasswordParams fills the new and repeat fields, plus the old one when the form asks for it
func (h *Harness) newPasswordParams(password, repeat string, withOld bool) form.Params {
	a := h.auth()
	p := form.Params{a.NewPasswordField: password, a.RepeatPasswordField: repeat}
	if withOld && a.CheckOldPassword {
		p[a.OldPasswordField] = a.Password
	}
	return p
}

// invalid is a new password the form must refuse, with the error it
// produces under the repeat field
type invalid struct {
	name     string
	password string
	expect   probe.Expect
}

func (h *Harness) invalidPasswords() []invalid {
	a := h.auth()
	repeat := a.RepeatPasswordField
	var out []invalid
	if a.PasswordMinLength > 1 {
		out = append(out, invalid{
			name:     "too short",
			password: h.Data.String(a.PasswordMinLength-1, true),
			expect:   probe.Expect{Kind: messages.PasswordTooShort, Field: repeat, Locals: h.locals(repeat, "length", a.PasswordMinLength)},
		})
	}
	if a.PasswordMaxLength > 0 {
		out = append(out, invalid{
			name:     "too long",
			password: h.Data.String(a.PasswordMaxLength+1, true),
			expect:   probe.Expect{Kind: messages.PasswordTooLong, Field: repeat, Locals: h.locals(repeat, "length", a.PasswordMaxLength)},
		})
	}
	values := h.similarValues()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := values[name]
		if v == "" {
			continue
		}
		expect := probe.Expect{Kind: messages.WrongPasswordSimilar, Field: repeat,
			Locals: h.locals(repeat, "verbose_field", a.PasswordSimilarFields[name])}
		pad := h.Data.String(max(defaultPasswordLength, a.PasswordMinLength), true)
		variants := []struct{ suffix, password string }{
			{"", v + pad},
			{" at the end", pad + v},
			{" in swapped case", swapCase(v) + pad},
		}
		for _, vr := range variants {
			if a.PasswordMaxLength > 0 && len([]rune(vr.password)) > a.PasswordMaxLength {
				continue
			}
			out = append(out, invalid{name: "similar to " + name + vr.suffix, password: vr.password, expect: expect})
		}
	}
	return out
}

// swapCase inverts the case of every letter of s
func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsUpper(r):
			return unicode.ToLower(r)
		case unicode.IsLower(r):
			return unicode.ToUpper(r)
		}
		return r
	}, s)
}

// changeCase runs fn on a scenario posting to the change password page,
// logged in with the declared account
func changeCase(flow, name string, fn passwordStep, gates ...Gate) Case {
	return Case{
		Name:  name,
		Gates: append([]Gate{With("change_password_url", "login_url"), withUsers}, gates...),
		Run: func(t *testing.T, h *Harness) {
			ctx := t.Context()
			h.clearBlacklist(t)
			h.restorePassword(t)
			if err := h.logout(ctx); err != nil {
				t.Fatalf("%v", err)
			}
			h.login(ctx, t, flow)
			s := h.pageScenario(t, flow, h.auth().ChangePasswordURL, false)
			defer s.Finish()
			s.Step(name, func() error { return fn(ctx, t, h, s) })
		},
	}
}

func changePassword(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	p, err := h.newPassword()
	if err != nil {
		return err
	}
	resp, snap, err := s.Submit(ctx, h.newPasswordParams(p, p, true))
	if err != nil {
		return err
	}
	if err := accepted(resp, snap); err != nil {
		return err
	}
	return h.passwordIs(ctx, p)
}

// refusedChange submits params and expects the errors and an unchanged password
func refusedChange(ctx context.Context, h *Harness, s *scenario.Scenario, params form.Params, expect ...probe.Expect) error {
	if err := expectErrors(ctx, s, params, expect...); err != nil {
		return err
	}
	return h.passwordIs(ctx, h.auth().Password)
}

func changeMismatch(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	repeat := h.auth().RepeatPasswordField
	p, q, err := h.newPasswordPair()
	if err != nil {
		return err
	}
	return refusedChange(ctx, h, s, h.newPasswordParams(p, q, true),
		probe.Expect{Kind: messages.WrongPasswordRepeat, Field: repeat, Locals: h.locals(repeat)})
}

func changeInvalid(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	for _, inv := range h.invalidPasswords() {
		s.Step(inv.name, func() error {
			return refusedChange(ctx, h, s, h.newPasswordParams(inv.password, inv.password, true), inv.expect)
		})
	}
	return nil
}

func changeWrongOld(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	p, err := h.newPassword()
	if err != nil {
		return err
	}
	params := h.newPasswordParams(p, p, false)
	params[a.OldPasswordField] = h.wrongPassword()
	return refusedChange(ctx, h, s, params,
		probe.Expect{Kind: messages.WrongOldPassword, Field: a.OldPasswordField, Locals: h.locals(a.OldPasswordField)})
}

func changeEmpty(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	fields := []string{a.NewPasswordField, a.RepeatPasswordField}
	if a.CheckOldPassword {
		fields = append([]string{a.OldPasswordField}, fields...)
	}
	expect := make([]probe.Expect, 0, len(fields))
	for _, f := range fields {
		expect = append(expect, probe.Expect{Kind: messages.Required, Field: f, Locals: h.locals(f)})
	}
	return refusedChange(ctx, h, s, form.Params{}, expect...)
}

func withEmail(_ context.Context, h *Harness) error {
	if h.Suite.Decl.Auth.Email == "" {
		return errors.New("no account email declared")
	}
	return nil
}

// resetCase runs fn on a scenario posting to the reset request page,
// logged out and with an empty outbox
func resetCase(flow, name string, fn passwordStep, gates ...Gate) Case {
	return Case{
		Name:  name,
		Gates: append([]Gate{With("reset_url"), withUsers, withOutbox, withEmail}, gates...),
		Run: func(t *testing.T, h *Harness) {
			ctx := t.Context()
			h.restorePassword(t)
			if err := h.logout(ctx); err != nil {
				t.Fatalf("%v", err)
			}
			if err := h.Suite.Outbox.Reset(ctx); err != nil {
				t.Fatalf("failed to reset outbox: %v", err)
			}
			s := h.pageScenario(t, flow, h.auth().ResetURL, true)
			defer s.Finish()
			s.Step(name, func() error { return fn(ctx, t, h, s) })
		},
	}
}

// requestReset asks for a reset link for the declared email and returns it
func (h *Harness) requestReset(ctx context.Context, s *scenario.Scenario) (string, error) {
	a := h.auth()
	resp, snap, err := s.Submit(ctx, form.Params{a.EmailField: a.Email})
	if err != nil {
		return "", err
	}
	if err := accepted(resp, snap); err != nil {
		return "", fmt.Errorf("reset request: %w", err)
	}
	return h.resetLink(ctx)
}

// resetLink extracts the link of the one mail sent to the account
func (h *Harness) resetLink(ctx context.Context) (string, error) {
	a := h.auth()
	mails, err := h.Suite.Outbox.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read outbox: %w", err)
	}
	var bodies []string
	for _, m := range mails {
		if slices.Contains(m.To, a.Email) {
			bodies = append(bodies, m.Body)
		}
	}
	if len(bodies) != 1 {
		return "", fmt.Errorf("%d mails sent to %s, want 1", len(bodies), a.Email)
	}
	pattern := defaultResetLink
	if a.ResetLinkPattern != "" {
		if pattern, err = regexp.Compile(a.ResetLinkPattern); err != nil {
			return "", fmt.Errorf("invalid reset_link_pattern: %w", err)
		}
	}
	link := pattern.FindString(bodies[0])
	if link == "" {
		return "", fmt.Errorf("no reset link in mail to %s", a.Email)
	}
	return link, nil
}

// noMail checks that nothing was sent
func (h *Harness) noMail(ctx context.Context) error {
	mails, err := h.Suite.Outbox.Messages(ctx)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(mails) > 0 {
		return fmt.Errorf("%d mails sent, want none", len(mails))
	}
	return nil
}

// confirm sets a new password through link
func (h *Harness) confirm(ctx context.Context, t *testing.T, link, password, repeat string) error {
	c := h.pageScenario(t, FlowResetPasswordPositive, link, false)
	resp, snap, err := c.Submit(ctx, h.newPasswordParams(password, repeat, false))
	if err != nil {
		return err
	}
	return accepted(resp, snap)
}

func resetPassword(ctx context.Context, t *testing.T, h *Harness, s *scenario.Scenario) error {
	link, err := h.requestReset(ctx, s)
	if err != nil {
		return err
	}
	resp, err := h.Suite.Client.Get(ctx, link, h.headers())
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset link answered %d", resp.StatusCode)
	}
	p, err := h.newPassword()
	if err != nil {
		return err
	}
	if err := h.confirm(ctx, t, link, p, p); err != nil {
		return err
	}
	return h.passwordIs(ctx, p)
}

// deadLink checks that link is refused and the password stays password
func (h *Harness) deadLink(ctx context.Context, t *testing.T, link, password string) error {
	resp, err := h.Suite.Client.Get(ctx, link, h.headers())
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("dead reset link answered %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	c := h.pageScenario(t, FlowResetPasswordNegative, link, false)
	p, err := h.newPassword()
	if err != nil {
		return err
	}
	resp, snap, err := c.Submit(ctx, h.newPasswordParams(p, p, false))
	if err != nil {
		return err
	}
	if err := h.expectMessage(resp, snap, http.StatusNotFound, messages.NotExist); err != nil {
		return err
	}
	return h.passwordIs(ctx, password)
}

func resetReused(ctx context.Context, t *testing.T, h *Harness, s *scenario.Scenario) error {
	link, err := h.requestReset(ctx, s)
	if err != nil {
		return err
	}
	first, err := h.newPassword()
	if err != nil {
		return err
	}
	if err := h.confirm(ctx, t, link, first, first); err != nil {
		return fmt.Errorf("first use: %w", err)
	}
	return h.deadLink(ctx, t, link, first)
}

func resetExpired(ctx context.Context, t *testing.T, h *Harness, s *scenario.Scenario) error {
	link, err := h.requestReset(ctx, s)
	if err != nil {
		return err
	}
	a := h.auth()
	if err := h.Suite.Users.ExpireResetCodes(ctx, a.Username, a.CodeLifetime()+time.Hour); err != nil {
		return err
	}
	return h.deadLink(ctx, t, link, a.Password)
}

func resetMismatch(ctx context.Context, t *testing.T, h *Harness, s *scenario.Scenario) error {
	link, err := h.requestReset(ctx, s)
	if err != nil {
		return err
	}
	c := h.pageScenario(t, FlowResetPasswordNegative, link, false)
	repeat := h.auth().RepeatPasswordField
	p, q, err := h.newPasswordPair()
	if err != nil {
		return err
	}
	if err := expectErrors(ctx, c, h.newPasswordParams(p, q, false),
		probe.Expect{Kind: messages.WrongPasswordRepeat, Field: repeat, Locals: h.locals(repeat)}); err != nil {
		return err
	}
	for _, inv := range h.invalidPasswords() {
		s.Step(inv.name, func() error {
			return expectErrors(ctx, c, h.newPasswordParams(inv.password, inv.password, false), inv.expect)
		})
	}
	return h.passwordIs(ctx, h.auth().Password)
}

// refusedReset requests a reset for email and expects kind on the email
// field, or a silent success without mail when the form hides accounts
func (h *Harness) refusedReset(ctx context.Context, s *scenario.Scenario, email string, kind messages.Kind) error {
	a := h.auth()
	params := form.Params{a.EmailField: email}
	if h.Suite.Decl.HidesAccounts() {
		resp, snap, err := s.Submit(ctx, params)
		if err != nil {
			return err
		}
		if err := accepted(resp, snap); err != nil {
			return err
		}
	} else if err := expectErrors(ctx, s, params,
		probe.Expect{Kind: kind, Field: a.EmailField, Locals: h.locals(a.EmailField, "value", email)}); err != nil {
		return err
	}
	return h.noMail(ctx)
}

func resetUnknown(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	email, err := h.Data.Email(24, true)
	if err != nil {
		return err
	}
	return h.refusedReset(ctx, s, "nobody."+email, messages.UserNotExists)
}

func resetInactive(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	if err := h.Suite.Users.SetActive(ctx, a.Username, false); err != nil {
		return err
	}
	defer func() {
		if err := h.Suite.Users.SetActive(context.Background(), a.Username, true); err != nil {
			s.Failf("reactivate", "failed to reactivate %s: %v", a.Username, err)
		}
	}()
	return h.refusedReset(ctx, s, a.Email, messages.InactiveUser)
}

func resetWrongEmail(ctx context.Context, _ *testing.T, h *Harness, s *scenario.Scenario) error {
	a := h.auth()
	for _, v := range []string{"", "not-an-email", "user@", "@example.com"} {
		kind := messages.WrongValueEmail
		if v == "" {
			kind = messages.Required
		}
		s.Step(fmt.Sprintf("email %q", v), func() error {
			if err := expectErrors(ctx, s, form.Params{a.EmailField: v},
				probe.Expect{Kind: kind, Field: a.EmailField, Locals: h.locals(a.EmailField, "value", v)}); err != nil {
				return err
			}
			return h.noMail(ctx)
		})
	}
	return nil
}

var (
	// ChangePasswordPositive changes the password of the logged in account
	ChangePasswordPositive = Flow{Name: FlowChangePasswordPositive, Cases: []Case{
		changeCase(FlowChangePasswordPositive, "change", changePassword),
	}}

	// ChangePasswordNegative submits new passwords the form must refuse
	ChangePasswordNegative = Flow{Name: FlowChangePasswordNegative, Cases: []Case{
		changeCase(FlowChangePasswordNegative, "repeat_mismatch", changeMismatch),
		changeCase(FlowChangePasswordNegative, "invalid_password", changeInvalid),
		changeCase(FlowChangePasswordNegative, "wrong_old_password", changeWrongOld, With("check_old_password")),
		changeCase(FlowChangePasswordNegative, "empty_fields", changeEmpty),
	}}

	// ResetPasswordPositive resets the password through the mailed link
	ResetPasswordPositive = Flow{Name: FlowResetPasswordPositive, Cases: []Case{
		resetCase(FlowResetPasswordPositive, "reset", resetPassword),
	}}

	// ResetPasswordNegative covers refused requests and dead or misused links
	ResetPasswordNegative = Flow{Name: FlowResetPasswordNegative, Cases: []Case{
		resetCase(FlowResetPasswordNegative, "used_link", resetReused),
		resetCase(FlowResetPasswordNegative, "expired_link", resetExpired),
		resetCase(FlowResetPasswordNegative, "invalid_new_password", resetMismatch),
		resetCase(FlowResetPasswordNegative, "unknown_email", resetUnknown),
		resetCase(FlowResetPasswordNegative, "inactive_user", resetInactive),
		resetCase(FlowResetPasswordNegative, "wrong_email", resetWrongEmail),
	}}
)
