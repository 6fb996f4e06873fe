// Package scenario runs probes against the application under test. Each
// probe is bracketed by a savepoint, adjudicated against the field model and
// the message catalogue, and any failure is accumulated until Finish.
package scenario

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/compare"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/probe"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// T is the part of testing.TB the scenario reports through
type T interface {
	Helper()
	Errorf(format string, args ...any)
}

// Env holds the collaborators a scenario drives
type Env struct {
	Client    target.Client
	Entity    target.Entity // nil for forms without a backing model
	Inspector target.Inspector
	Outbox    target.Outbox
	Captcha   target.CaptchaSolver
	Catalogue *messages.Catalogue
	Metrics   *Metrics
}

// Options bind a scenario to one form
type Options struct {
	Flow    string
	Model   *form.FieldModel
	Mode    form.Mode
	URL     string // POST target; also fetched for the CAPTCHA preflight
	Object  any    // primary key of the edited row
	Captcha form.CaptchaConfig
	Headers http.Header
	Colour  bool
}

// Scenario is a sequence of probes bound to one test
type Scenario struct {
	t        T
	env      Env
	opts     Options
	view     *form.View
	acc      Accumulator
	guard    Guard
	previous []any // rows saved by the last kept positive add probe
}

// New creates a scenario reporting to t
func New(t T, env Env, opts Options) *Scenario {
	if env.Catalogue == nil {
		env.Catalogue = messages.New(nil, nil, opts.Model.NonFieldKey)
	}
	return &Scenario{
		t:    t,
		env:  env,
		opts: opts,
		view: opts.Model.View(opts.Mode),
	}
}

// Guard returns the scenario-scoped resource guard, closed by Finish
func (s *Scenario) Guard() *Guard {
	return &s.guard
}

// Accumulator exposes the pending failures
func (s *Scenario) Accumulator() *Accumulator {
	return &s.acc
}

// Run executes one probe and reports whether it passed. A failing probe with
// fallbacks runs them; its own failure is recorded only when every fallback
// passes, since a failing fallback pinpoints the cause.
func (s *Scenario) Run(ctx context.Context, p probe.Probe) bool {
	start := time.Now()
	log.Debug().
		Str("flow", s.opts.Flow).
		Str("probe", p.Name).
		Str("family", string(p.Family)).
		Str("profile", p.Profile.String()).
		Msg("running probe")

	err := s.run(ctx, p)
	outcome := OutcomePass
	if err != nil {
		outcome = OutcomeFail
	}
	s.env.Metrics.observe(s.opts.Flow, string(p.Family), outcome, time.Since(start).Seconds())
	if err == nil {
		return true
	}
	log.Debug().Err(err).Str("probe", p.Name).Msg("probe failed")

	if len(p.Fallback) > 0 {
		failed := false
		for _, fb := range p.Fallback {
			if !s.Run(ctx, fb) {
				failed = true
			}
		}
		if failed {
			return false
		}
	}
	s.acc.Add(p.Name, err)
	return false
}

// RunAll runs probes in order and returns the number that failed
func (s *Scenario) RunAll(ctx context.Context, probes []probe.Probe) int {
	failed := 0
	for _, p := range probes {
		if !s.Run(ctx, p) {
			failed++
		}
	}
	return failed
}

// Step runs an ad-hoc check, accumulating its error or panic
func (s *Scenario) Step(name string, fn func() error) bool {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
			}
		}()
		return fn()
	}()
	if err != nil {
		s.acc.Add(name, err)
		return false
	}
	return true
}

// Failf records a failure without running anything
func (s *Scenario) Failf(name, format string, args ...any) {
	s.acc.Add(name, fmt.Errorf(format, args...))
}

// Finish is the scenario epilogue: it closes the guard and reports every
// accumulated failure as one test error, then clears the accumulator.
func (s *Scenario) Finish() {
	s.t.Helper()
	if err := s.guard.Close(); err != nil {
		s.acc.Add("release resources", err)
	}
	if s.acc.Len() == 0 {
		return
	}
	s.t.Errorf("%s", s.acc.Render(s.opts.Colour))
	s.acc.Reset()
}

type state struct {
	count  int
	pks    []any
	record *target.Record // edited row, edit mode only
}

func (s *Scenario) run(ctx context.Context, p probe.Probe) (err error) {
	e := s.env.Entity
	if e != nil && p.Policy == probe.DeletePrevious {
		if err := s.deletePrevious(ctx); err != nil {
			return err
		}
	}

	var before state
	var sp target.Savepoint
	if e != nil {
		if before, err = s.snapshot(ctx); err != nil {
			return err
		}
		if sp, err = e.Savepoint(ctx); err != nil {
			return fmt.Errorf("failed to open savepoint: %w", err)
		}
	}

	var guard Guard
	keep := false
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
		if closeErr := guard.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if sp == nil {
			return
		}
		if err == nil && keep {
			if relErr := sp.Release(ctx); relErr != nil {
				err = fmt.Errorf("failed to release savepoint: %w", relErr)
			}
			return
		}
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			err = errors.CombineErrors(err, fmt.Errorf("failed to roll back savepoint: %w", rbErr))
		}
	}()

	if s.env.Outbox != nil {
		if err := s.env.Outbox.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset outbox: %w", err)
		}
	}

	params := s.view.Defaults.Clone()
	if p.Prepare != nil {
		if err := p.Prepare(ctx, e, params); err != nil {
			return fmt.Errorf("failed to prepare: %w", err)
		}
	}
	if err := p.Apply(params); err != nil {
		return fmt.Errorf("failed to build params: %w", err)
	}
	trackFiles(&guard, params)

	resp, snap, err := s.Submit(ctx, params)
	if err != nil {
		return err
	}

	if p.Profile == probe.Negative {
		return s.negative(ctx, p, before, snap)
	}
	rec, err := s.positive(ctx, p, before, params, snap)
	if err != nil {
		return err
	}
	if p.Check != nil {
		out := &probe.Outcome{Params: params, Response: resp, Snapshot: snap, Record: rec, Entity: e}
		if err := p.Check(ctx, out); err != nil {
			return err
		}
	}
	keep = true
	if s.opts.Mode == form.ModeAdd && rec != nil {
		s.previous = append(s.previous, rec.PK)
	}
	return nil
}

// Submit refreshes the CAPTCHA, posts params to the form and inspects the
// response.
func (s *Scenario) Submit(ctx context.Context, params form.Params) (*target.Response, *target.Snapshot, error) {
	if err := s.solveCaptcha(ctx, params); err != nil {
		return nil, nil, err
	}
	resp, err := s.env.Client.Post(ctx, s.opts.URL, params, true, s.opts.Headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to post %s: %w", s.opts.URL, err)
	}
	snap, err := s.env.Inspector.Inspect(resp)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to inspect response: %w", err)
	}
	return resp, snap, nil
}

func (s *Scenario) solveCaptcha(ctx context.Context, params form.Params) error {
	if !s.opts.Captcha.Enabled() || s.env.Captcha == nil {
		return nil
	}
	resp, err := s.env.Client.Get(ctx, s.opts.URL, s.opts.Headers)
	if err != nil {
		return fmt.Errorf("failed to fetch form for captcha: %w", err)
	}
	values, err := s.env.Captcha.Solve(ctx, resp, s.opts.Captcha.Prefix())
	if err != nil {
		return fmt.Errorf("failed to solve captcha: %w", err)
	}
	for k, v := range values {
		params[k] = v
	}
	return nil
}

func (s *Scenario) snapshot(ctx context.Context) (state, error) {
	count, err := s.env.Entity.Count(ctx)
	if err != nil {
		return state{}, fmt.Errorf("failed to count %s: %w", s.env.Entity.Name(), err)
	}
	pks, err := s.env.Entity.PKs(ctx)
	if err != nil {
		return state{}, fmt.Errorf("failed to list %s keys: %w", s.env.Entity.Name(), err)
	}
	st := state{count: count, pks: pks}
	if s.opts.Mode == form.ModeEdit && s.opts.Object != nil {
		rec, err := s.env.Entity.Get(ctx, s.opts.Object)
		if err != nil {
			return state{}, fmt.Errorf("failed to load %s %v: %w", s.env.Entity.Name(), s.opts.Object, err)
		}
		st.record = &rec
	}
	return st, nil
}

func (s *Scenario) deletePrevious(ctx context.Context) error {
	for _, pk := range s.previous {
		if err := s.env.Entity.Delete(ctx, pk); err != nil && !errors.Is(err, target.ErrNotFound) {
			return fmt.Errorf("failed to delete previous %s %v: %w", s.env.Entity.Name(), pk, err)
		}
	}
	s.previous = nil
	return nil
}

func (s *Scenario) positive(ctx context.Context, p probe.Probe, before state, params form.Params, snap *target.Snapshot) (*target.Record, error) {
	if snap.HasErrors() {
		return nil, fmt.Errorf("form rejected the submission: %s", renderErrors(snap.Errors))
	}
	e := s.env.Entity
	if e == nil {
		return nil, nil
	}
	after, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var pk any
	if s.opts.Mode == form.ModeEdit {
		if after.count != before.count {
			return nil, fmt.Errorf("%s count changed from %d to %d on edit", e.Name(), before.count, after.count)
		}
		pk = s.opts.Object
	} else {
		if after.count != before.count+1 {
			return nil, fmt.Errorf("%s count is %d, want %d after add", e.Name(), after.count, before.count+1)
		}
		created := newKeys(before.pks, after.pks)
		if len(created) != 1 {
			return nil, fmt.Errorf("expected one new %s key, found %v", e.Name(), created)
		}
		pk = created[0]
	}
	if pk == nil {
		return nil, nil
	}

	rec, err := e.Get(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %v: %w", e.Name(), pk, err)
	}
	exclude := append(s.view.ExcludeFromCheck.Sorted(), p.Exclude...)
	opts := compare.Options{
		Exclude:     exclude,
		OtherValues: s.opts.Model.OtherValues.Merge(p.Other),
		Layouts:     append(append([]string(nil), s.opts.Model.DateTimeFormats...), s.opts.Model.DateFormats...),
		Digital:     s.digital(),
	}
	if err := compare.ObjectFields(rec, params, opts); err != nil {
		return &rec, err
	}
	return &rec, nil
}

func (s *Scenario) negative(ctx context.Context, p probe.Probe, before state, snap *target.Snapshot) error {
	if e := s.env.Entity; e != nil {
		count, err := e.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", e.Name(), err)
		}
		if count != before.count {
			return fmt.Errorf("%s count changed from %d to %d on a rejected submission", e.Name(), before.count, count)
		}
		if before.record != nil {
			rec, err := e.Get(ctx, before.record.PK)
			if err != nil {
				return fmt.Errorf("failed to reload %s %v: %w", e.Name(), before.record.PK, err)
			}
			if changed := changedFields(*before.record, rec); len(changed) > 0 {
				return fmt.Errorf("%s %v changed on a rejected submission: %s", e.Name(), before.record.PK, strings.Join(changed, ", "))
			}
		}
	}
	if len(p.Expect) == 0 {
		if !snap.HasErrors() {
			return errors.New("form accepted a submission it should reject")
		}
		return nil
	}
	want, err := s.Expected(p.Expect...)
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
		return fmt.Errorf("form errors differ\n want: %s\n  got: %s", renderErrors(want), renderErrors(got))
	}
	return nil
}

// Expected resolves the error map a set of expectations produces
func (s *Scenario) Expected(expect ...probe.Expect) (map[string][]string, error) {
	want := make(map[string][]string)
	for _, x := range expect {
		resolved, err := s.env.Catalogue.Resolve(x.Kind, x.Field, x.Locals)
		if err != nil {
			return nil, err
		}
		for k, msgs := range resolved {
			want[k] = append(want[k], msgs...)
		}
	}
	return want, nil
}

func (s *Scenario) digital() []string {
	var out []string
	for _, name := range s.view.All {
		if f := s.view.Fields[name]; f.IsDigital() {
			out = append(out, name)
		}
	}
	return out
}

// changedFields lists the values and related collections that differ
func changedFields(before, after target.Record) []string {
	var out []string
	for k, v := range before.Values {
		if w, ok := after.Values[k]; !ok || !reflect.DeepEqual(v, w) {
			out = append(out, fmt.Sprintf("%s: %v -> %v", k, v, w))
		}
	}
	for k, w := range after.Values {
		if _, ok := before.Values[k]; !ok {
			out = append(out, fmt.Sprintf("%s: <unset> -> %v", k, w))
		}
	}
	for k, rows := range before.Related {
		if !reflect.DeepEqual(rows, after.Related[k]) {
			out = append(out, k)
		}
	}
	for k := range after.Related {
		if _, ok := before.Related[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func newKeys(before, after []any) []any {
	seen := make(map[string]bool, len(before))
	for _, pk := range before {
		seen[fmt.Sprint(pk)] = true
	}
	var out []any
	for _, pk := range after {
		if !seen[fmt.Sprint(pk)] {
			out = append(out, pk)
		}
	}
	return out
}

// trackFiles removes on-disk copies of submitted files after the probe
func trackFiles(g *Guard, params form.Params) {
	for _, v := range params {
		switch val := v.(type) {
		case *form.File:
			if val != nil && val.Path != "" {
				g.Remove(val.Path)
			}
		case []*form.File:
			for _, f := range val {
				if f != nil && f.Path != "" {
					g.Remove(f.Path)
				}
			}
		}
	}
}

func renderErrors(errs map[string][]string) string {
	if len(errs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %q", k, errs[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// The call stack is panicError, the deferred func, panic
const panicDepth = 3

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WithStackDepth(errors.Wrap(err, "panic"), panicDepth)
	}
	return errors.NewWithDepthf(panicDepth, "panic: %v", r)
}
