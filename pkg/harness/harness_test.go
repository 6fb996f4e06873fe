package harness

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/QTest-hq/formprobe/internal/auth"
	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/inspect"
	"github.com/QTest-hq/formprobe/internal/labels"
	"github.com/QTest-hq/formprobe/internal/mail"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/internal/testapp"
	"github.com/QTest-hq/formprobe/pkg/form"
)

const (
	username = "alice"
	password = "s3cret-pass"
	email    = "alice@example.com"
)

func itemDecl() form.Declaration {
	return form.Declaration{
		Name:        "item",
		URLAdd:      "/item/add/",
		URLEdit:     "/item/{pk}/edit/",
		URLDelete:   "/item/{pk}/delete/",
		URLRemove:   "/item/{pk}/remove/",
		URLList:     "/items/",
		RemoveField: "is_removed",
		FormDecl: form.FormDecl{
			DefaultParams:  form.Params{"name": "widget", "email": "a@b.cd", "count": 3},
			RequiredFields: []string{"name"},
			EmailFields:    []string{"email"},
			UniqueFields:   [][]string{{"email"}},
		},
		MaxFieldsLength: map[string]int{"name": 120},
		MaxValues:       map[string]float64{"count": 10},
		List:            form.ListDecl{Filters: map[string][]any{"name": {"first", "second"}}},
		Auth: form.AuthDecl{
			LoginURL:              "/login/",
			LogoutURL:             "/logout/",
			ProtectedURL:          "/private/",
			ChangePasswordURL:     "/password/change/",
			ResetURL:              "/password/reset/",
			Username:              username,
			Password:              password,
			Email:                 email,
			ClientHost:            "10.0.0.7",
			CheckOldPassword:      true,
			PasswordMinLength:     8,
			PasswordMaxLength:     64,
			PasswordSimilarFields: map[string]string{"username": "username"},
		},
	}
}

// app is the bundled application behind an httptest server
type app struct {
	server    *testapp.Server
	blacklist *auth.MemoryBlacklist
	outbox    *mail.Memory
	url       string
}

func startApp(t *testing.T, decl form.Declaration) *app {
	t.Helper()
	a := &app{blacklist: auth.NewMemoryBlacklist(), outbox: mail.NewMemory()}
	s, err := testapp.New(testapp.Config{Declaration: decl, Blacklist: a.blacklist, Mail: a.outbox})
	require.NoError(t, err)
	a.server = s

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	a.url = srv.URL
	return a
}

func (a *app) suite(t *testing.T, decl form.Declaration) *Suite {
	t.Helper()
	c, err := client.New(a.url)
	require.NoError(t, err)
	return &Suite{
		Decl:      decl,
		Client:    c,
		Entity:    a.server.Entity(),
		Inspector: inspect.NewJSON(""),
		Outbox:    a.outbox,
		Captcha:   client.Simple{},
		Users:     a.server.Users(),
		Blacklist: a.blacklist,
		Data:      datagen.New(datagen.WithSeed(7), datagen.WithFilesDir(t.TempDir())),
	}
}

func seedItems(t *testing.T, a *app) {
	t.Helper()
	e := a.server.Entity()
	e.Insert(map[string]any{"name": "first", "email": "first@example.com", "count": int64(1), "is_removed": false}, nil)
	e.Insert(map[string]any{"name": "second", "email": "second@example.com", "count": int64(2), "is_removed": false}, nil)
}

func TestFlowByName(t *testing.T) {
	for _, f := range Flows {
		got, ok := FlowByName(f.Name)
		require.True(t, ok, f.Name)
		assert.Equal(t, f.Name, got.Name)
		assert.NotEmpty(t, got.Cases, f.Name)
	}
	_, ok := FlowByName("missing")
	assert.False(t, ok)
}

func TestPlan_Labels(t *testing.T) {
	sel, err := labels.New([]string{"item.add_*.*"}, []string{"*.*.file_*"})
	require.NoError(t, err)

	s := &Suite{Decl: itemDecl(), Labels: sel}
	ids := Plan(s)

	assert.Contains(t, ids, "item.add_positive.default_params")
	assert.Contains(t, ids, "item.add_negative.max_length")
	for _, id := range ids {
		assert.NotContains(t, id, ".file_")
		assert.NotContains(t, id, "edit_")
	}
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(context.Background(), &Suite{Decl: itemDecl()})
	assert.Error(t, err)
}

func TestGates(t *testing.T) {
	a := startApp(t, itemDecl())
	s := a.suite(t, itemDecl())
	h, err := New(context.Background(), s)
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, With("url_add", "max_fields_length")(ctx, h))
	assert.Error(t, With("intervals")(ctx, h))
	assert.Error(t, WithObj()(ctx, h), "no rows yet")
	assert.Error(t, withFiles(ctx, h))
	assert.Error(t, withCaptcha(ctx, h))
	assert.NoError(t, withUsers(ctx, h))

	seedItems(t, a)
	assert.NoError(t, WithObj()(ctx, h))
}

func TestItemForms(t *testing.T) {
	a := startApp(t, itemDecl())
	seedItems(t, a)
	s := a.suite(t, itemDecl())
	reg := prometheus.NewRegistry()
	s.Metrics = scenario.NewMetrics(reg)

	Run(t, s, AddPositive, AddNegative, EditPositive, EditNegative)

	n, err := a.server.Entity().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "cases roll back the rows they keep")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestItemObjects(t *testing.T) {
	a := startApp(t, itemDecl())
	seedItems(t, a)
	s := a.suite(t, itemDecl())

	Run(t, s, DeletePositive, DeleteNegative, RemovePositive, RemoveNegative, ListPositive, ListNegative)

	n, err := a.server.Entity().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	removed, err := a.server.Entity().Filter(context.Background(), map[string]any{"is_removed": true})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMeetingInterval(t *testing.T) {
	decl := form.Declaration{
		Name:           "meeting",
		URLAdd:         "/meeting/add/",
		DateTimeFields: []string{"start", "end"},
		Intervals:      []form.Interval{{Start: "start", End: "end", Op: ">"}},
		FormDecl: form.FormDecl{
			DefaultParams: form.Params{
				"start_0": "2025-03-10", "start_1": "09:00",
				"end_0": "2025-03-10", "end_1": "10:00",
			},
		},
	}
	a := startApp(t, decl)
	sel, err := labels.New([]string{"meeting.*.interval", "meeting.*.default_params"}, nil)
	require.NoError(t, err)
	s := a.suite(t, decl)
	s.Labels = sel

	Run(t, s, AddPositive, AddNegative)
}

func TestPhotoDimensions(t *testing.T) {
	decl := form.Declaration{
		Name:   "photo",
		URLAdd: "/photo/add/",
		FormDecl: form.FormDecl{
			AllFields:     []string{"title", "image"},
			DefaultParams: form.Params{"title": "cat"},
			FileFieldsParams: map[string]form.FileParams{
				"image": {Extensions: []string{"jpg"}, MinWidth: 200, MinHeight: 200},
			},
		},
	}
	a := startApp(t, decl)
	sel, err := labels.New([]string{"photo.*.file_dimensions"}, nil)
	require.NoError(t, err)
	s := a.suite(t, decl)
	s.Labels = sel

	Run(t, s, AddPositive, AddNegative)
}

// AccountSuite runs the login and password flows against one application,
// each test on a fresh client session
type AccountSuite struct {
	suite.Suite
	app *app
}

func (s *AccountSuite) SetupTest() {
	s.app = startApp(s.T(), itemDecl())
	_, err := s.app.server.Users().Add(username, email, password)
	s.Require().NoError(err)
}

func (s *AccountSuite) harnessSuite() *Suite {
	return s.app.suite(s.T(), itemDecl())
}

func (s *AccountSuite) checkAccount() {
	ctx := context.Background()
	ok, err := s.app.server.Users().CheckPassword(ctx, username, password)
	s.Require().NoError(err)
	s.True(ok, "password restored after the flow")

	n, err := s.app.blacklist.Attempts(ctx, "10.0.0.7")
	s.Require().NoError(err)
	s.Zero(n, "login failures cleared after the flow")
}

func (s *AccountSuite) TestLogin() {
	Run(s.T(), s.harnessSuite(), LoginPositive, LoginNegative)
	s.checkAccount()
}

func (s *AccountSuite) TestLogin_Captcha() {
	decl := itemDecl()
	decl.Captcha = form.CaptchaConfig{Provider: form.CaptchaSimple, RetriesBeforeEnforcement: 2}
	s.app = startApp(s.T(), decl)
	_, err := s.app.server.Users().Add(username, email, password)
	s.Require().NoError(err)

	sel, err := labels.New([]string{"item.login_*.*"}, nil)
	s.Require().NoError(err)
	hs := s.app.suite(s.T(), decl)
	hs.Labels = sel

	Run(s.T(), hs, LoginPositive, LoginNegative)
	s.checkAccount()
}

func (s *AccountSuite) TestChangePassword() {
	Run(s.T(), s.harnessSuite(), ChangePasswordPositive, ChangePasswordNegative)
	s.checkAccount()
}

func (s *AccountSuite) TestResetPassword() {
	Run(s.T(), s.harnessSuite(), ResetPasswordPositive, ResetPasswordNegative)
	s.checkAccount()
}

func (s *AccountSuite) TestResetPassword_HiddenAccounts() {
	decl := itemDecl()
	decl.Auth.NoLeak = true
	s.app = startApp(s.T(), decl)
	_, err := s.app.server.Users().Add(username, email, password)
	s.Require().NoError(err)

	Run(s.T(), s.app.suite(s.T(), decl), ResetPasswordNegative)
	s.checkAccount()
}

func (s *AccountSuite) TestResetLink_SingleUse() {
	ctx := context.Background()
	hs := s.harnessSuite()
	h, err := New(ctx, hs)
	s.Require().NoError(err)
	t := s.T()

	sc := h.pageScenario(t, FlowResetPasswordPositive, "/password/reset/", false)
	link, err := h.requestReset(ctx, sc)
	s.Require().NoError(err)
	s.Contains(link, "/password/reset/")

	first := "first-new-pass"
	s.Require().NoError(h.confirm(ctx, t, link, first, first))
	s.NoError(h.passwordIs(ctx, first))

	s.NoError(h.deadLink(ctx, t, link, first))
	s.NoError(h.passwordIs(ctx, first))
	sc.Finish()
}

func TestAccountSuite(t *testing.T) {
	suite.Run(t, new(AccountSuite))
}
