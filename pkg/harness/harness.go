// Package harness assembles probe cases into flows and runs them as Go
// subtests against one declared form. A test author fills a Suite with the
// declaration and the collaborators that reach the application, then calls
// Run with the flows the form supports:
//
//	func TestProduct(t *testing.T) {
//		harness.Run(t, suite, harness.AddPositive, harness.AddNegative)
//	}
//
// Every case runs as the subtest <suite>/<flow>/<case>; its dotted form
// suite.flow.case is what label selectors match.
package harness

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/classify"
	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/inspect"
	"github.com/QTest-hq/formprobe/internal/labels"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// Suite binds a form declaration to the application under test. Client is
// required; the other collaborators are optional and the cases needing a
// missing one are skipped.
type Suite struct {
	Name   string // label root, the declaration name when empty
	Decl   form.Declaration
	Schema []target.FieldSchema // introspected columns, fetched from Entity when nil

	Client    target.Client
	Entity    target.Entity
	Inspector target.Inspector // HTML when nil
	Outbox    target.Outbox
	Captcha   target.CaptchaSolver
	Users     target.Users
	Blacklist target.Blacklist

	Catalogue *messages.Catalogue // built from the declaration when nil
	Data      *datagen.Generator
	Metrics   *scenario.Metrics
	Labels    *labels.Selector

	// Gates apply to every case of the suite
	Gates  []Gate
	Colour bool

	// Object is the key of the row the edit, delete and remove flows work
	// on; the first row is used when nil.
	Object any
}

// Case is one named check of a flow
type Case struct {
	Name  string
	Gates []Gate
	Run   func(t *testing.T, h *Harness)
}

// Flow is a named list of cases
type Flow struct {
	Name  string
	Cases []Case
}

// Harness is what a running case sees: the suite and the field model built
// from its declaration
type Harness struct {
	Suite     *Suite
	Model     *form.FieldModel
	Catalogue *messages.Catalogue
	Data      *datagen.Generator
}

// Flows lists every flow in the order Run uses when given none
var Flows = []Flow{
	AddPositive, AddNegative,
	EditPositive, EditNegative,
	DeletePositive, DeleteNegative,
	RemovePositive, RemoveNegative,
	ListPositive, ListNegative,
	LoginPositive, LoginNegative,
	ChangePasswordPositive, ChangePasswordNegative,
	ResetPasswordPositive, ResetPasswordNegative,
}

// FlowByName finds one of Flows; dashes match underscores
func FlowByName(name string) (Flow, bool) {
	name = strings.ReplaceAll(name, "-", "_")
	for _, f := range Flows {
		if f.Name == name {
			return f, true
		}
	}
	return Flow{}, false
}

// New builds the field model of the suite's declaration
func New(ctx context.Context, s *Suite) (*Harness, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("suite %s has no client", s.name())
	}
	schema := s.Schema
	if schema == nil && s.Entity != nil {
		fields, err := s.Entity.Fields(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect %s: %w", s.Entity.Name(), err)
		}
		schema = fields
	}
	model, err := classify.Build(s.Decl, schema)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		Suite:     s,
		Model:     model,
		Catalogue: s.Catalogue,
		Data:      s.Data,
	}
	if h.Catalogue == nil {
		h.Catalogue = messages.New(s.Decl.CustomErrorMessages, nil, model.NonFieldKey)
	}
	if h.Data == nil {
		h.Data = datagen.New()
	}
	if s.Inspector == nil {
		s.Inspector = inspect.NewHTML(model.NonFieldKey)
	}
	return h, nil
}

func (s *Suite) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Decl.Name
}

// ID returns the dotted identifier labels match a case by
func (s *Suite) ID(flow, c string) string {
	return s.name() + "." + flow + "." + c
}

// Plan returns the identifiers of the cases Run would consider, after label
// selection and before gates
func Plan(s *Suite, flows ...Flow) []string {
	if len(flows) == 0 {
		flows = Flows
	}
	var ids []string
	for _, flow := range flows {
		for _, c := range flow.Cases {
			id := s.ID(flow.Name, c.Name)
			if s.Labels == nil || s.Labels.Match(id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Run runs the cases of flows, every flow when none is given. A declaration
// the classifier rejects fails the test before any case runs.
func Run(t *testing.T, s *Suite, flows ...Flow) {
	t.Helper()
	h, err := New(t.Context(), s)
	if err != nil {
		t.Fatalf("suite %s: %v", s.name(), err)
	}
	if len(flows) == 0 {
		flows = Flows
	}

	t.Run(s.name(), func(t *testing.T) {
		for _, flow := range flows {
			t.Run(flow.Name, func(t *testing.T) {
				for _, c := range flow.Cases {
					id := s.ID(flow.Name, c.Name)
					if s.Labels != nil && !s.Labels.Match(id) {
						continue
					}
					t.Run(c.Name, func(t *testing.T) {
						h.run(t, id, c)
					})
				}
			})
		}
	})
}

func (h *Harness) run(t *testing.T, id string, c Case) {
	if err := h.gate(t.Context(), c); err != nil {
		t.Skipf("%s: %v", id, err)
	}
	log.Debug().Str("case", id).Msg("running case")
	c.Run(t, h)
}

// gate returns the first error of the suite and case gates
func (h *Harness) gate(ctx context.Context, c Case) error {
	for _, g := range h.Suite.Gates {
		if err := g(ctx, h); err != nil {
			return err
		}
	}
	for _, g := range c.Gates {
		if err := g(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Planned is a selected case and, when its gates refuse it, the reason
type Planned struct {
	ID   string
	Skip string
}

// Check evaluates the gates of every selected case without running any
func Check(ctx context.Context, s *Suite, flows ...Flow) ([]Planned, error) {
	h, err := New(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(flows) == 0 {
		flows = Flows
	}
	var out []Planned
	for _, flow := range flows {
		for _, c := range flow.Cases {
			id := s.ID(flow.Name, c.Name)
			if s.Labels != nil && !s.Labels.Match(id) {
				continue
			}
			p := Planned{ID: id}
			if err := h.gate(ctx, c); err != nil {
				p.Skip = err.Error()
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// scenario creates a scenario posting to url, guarded by the declared CAPTCHA
func (h *Harness) scenario(t *testing.T, flow string, mode form.Mode, url string, object any) *scenario.Scenario {
	return h.newScenario(t, scenario.Options{
		Flow:    flow,
		Mode:    mode,
		URL:     url,
		Object:  object,
		Captcha: h.Suite.Decl.Captcha,
	})
}

// pageScenario creates a scenario on a page without a backing row; the
// CAPTCHA is solved only when captcha is set
func (h *Harness) pageScenario(t *testing.T, flow, url string, captcha bool) *scenario.Scenario {
	opts := scenario.Options{Flow: flow, Mode: form.ModeAdd, URL: url}
	if captcha {
		opts.Captcha = h.Suite.Decl.Captcha
	}
	return h.newScenario(t, opts)
}

func (h *Harness) newScenario(t *testing.T, opts scenario.Options) *scenario.Scenario {
	s := h.Suite
	env := scenario.Env{
		Client:    s.Client,
		Entity:    s.Entity,
		Inspector: s.Inspector,
		Outbox:    s.Outbox,
		Captcha:   s.Captcha,
		Catalogue: h.Catalogue,
		Metrics:   s.Metrics,
	}
	opts.Model = h.Model
	opts.Headers = h.headers()
	opts.Colour = s.Colour
	return scenario.New(t, env, opts)
}

// headers are sent with every request a case makes itself
func (h *Harness) headers() http.Header {
	hdr := make(http.Header)
	if host := h.Suite.Decl.Auth.ClientHost; host != "" {
		hdr.Set("X-Real-IP", host)
	}
	return hdr
}

// clientHost is the address the application counts failed logins against
func (h *Harness) clientHost() string {
	if host := h.Suite.Decl.Auth.ClientHost; host != "" {
		return host
	}
	return "127.0.0.1"
}

// object returns the key of the row the object flows work on
func (h *Harness) object(ctx context.Context) (any, error) {
	if h.Suite.Object != nil {
		if _, err := h.Suite.Entity.Get(ctx, h.Suite.Object); err != nil {
			return nil, fmt.Errorf("object %v: %w", h.Suite.Object, err)
		}
		return h.Suite.Object, nil
	}
	rec, err := h.Suite.Entity.First(ctx)
	if err != nil {
		return nil, fmt.Errorf("no %s row to work on: %w", h.Suite.Entity.Name(), err)
	}
	return rec.PK, nil
}

// mustObject is object for cases whose gates already found the row
func (h *Harness) mustObject(t *testing.T) any {
	t.Helper()
	pk, err := h.object(t.Context())
	if err != nil {
		t.Fatalf("%v", err)
	}
	return pk
}

// objectURL fills the {pk} placeholder of pattern
func objectURL(pattern string, pk any) string {
	return strings.ReplaceAll(pattern, "{pk}", fmt.Sprint(pk))
}

// locals returns the locals every message may reference plus extra pairs
func (h *Harness) locals(field string, pairs ...any) messages.Locals {
	l := messages.Locals{
		"verbose_obj":   h.Model.VerboseObject(),
		"verbose_field": h.Model.VerboseField(field),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		l[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return l
}

// savepoint brackets a case that changes rows; the returned func rolls back
func (h *Harness) savepoint(t *testing.T) func() {
	t.Helper()
	ctx := t.Context()
	sp, err := h.Suite.Entity.Savepoint(ctx)
	if err != nil {
		t.Fatalf("failed to open savepoint: %v", err)
	}
	return func() {
		if err := sp.Rollback(ctx); err != nil {
			t.Errorf("failed to roll back savepoint: %v", err)
		}
	}
}
