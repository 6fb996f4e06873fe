package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// Soft-delete endpoints take the action in this form field
const (
	RemoveActionField = "action"
	ActionRemove      = "remove"
	ActionRestore     = "restore"
)

// objectCase runs fn on a scenario posting to the object URL built from
// pattern. Row changes are rolled back when the test ends.
func objectCase(flow, name, pattern string, missing bool, fn func(ctx context.Context, h *Harness, s *scenario.Scenario, pk any) error, gates ...Gate) Case {
	base := []Gate{withEntity}
	if !missing {
		base = append(base, WithObj())
	}
	return Case{
		Name:  name,
		Gates: append(base, gates...),
		Run: func(t *testing.T, h *Harness) {
			ctx := t.Context()
			t.Cleanup(h.savepoint(t))
			var pk any
			if missing {
				var err error
				if pk, err = h.missingKey(ctx); err != nil {
					t.Fatalf("%v", err)
				}
			} else {
				pk = h.mustObject(t)
			}
			s := h.pageScenario(t, flow, objectURL(h.decl(pattern), pk), false)
			defer s.Finish()
			s.Step(name, func() error { return fn(ctx, h, s, pk) })
		},
	}
}

// decl resolves an object URL attribute by name
func (h *Harness) decl(attr string) string {
	v, _ := h.Suite.Decl.Lookup(attr)
	str, _ := v.(string)
	return str
}

// missingKey returns a key no row has: one past the largest integer key,
// or a fresh UUID for other key types
func (h *Harness) missingKey(ctx context.Context) (any, error) {
	pks, err := h.Suite.Entity.PKs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", h.Suite.Entity.Name(), err)
	}
	var top int64
	for _, pk := range pks {
		n, err := strconv.ParseInt(fmt.Sprint(pk), 10, 64)
		if err != nil {
			return uuid.NewString(), nil
		}
		if n > top {
			top = n
		}
	}
	return top + 1, nil
}

func (h *Harness) count(ctx context.Context) (int, error) {
	n, err := h.Suite.Entity.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", h.Suite.Entity.Name(), err)
	}
	return n, nil
}

// expectMessage checks that the page answered with status and shows the
// message of kind
func (h *Harness) expectMessage(resp *target.Response, snap *target.Snapshot, status int, kind messages.Kind) error {
	if resp.StatusCode != status {
		return fmt.Errorf("status is %d, want %d", resp.StatusCode, status)
	}
	want, err := h.Catalogue.Messages(kind, "", h.locals(""))
	if err != nil {
		return err
	}
	for _, msg := range want {
		if !slices.Contains(snap.Messages, msg) {
			return fmt.Errorf("message %q not shown, got %q", msg, snap.Messages)
		}
	}
	return nil
}

// accepted checks a submission that must go through
func accepted(resp *target.Response, snap *target.Snapshot) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status is %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if snap.HasErrors() {
		return fmt.Errorf("submission rejected: %v", snap.Errors)
	}
	return nil
}

func deleteObject(ctx context.Context, h *Harness, s *scenario.Scenario, pk any) error {
	before, err := h.count(ctx)
	if err != nil {
		return err
	}
	resp, snap, err := s.Submit(ctx, form.Params{})
	if err != nil {
		return err
	}
	if err := accepted(resp, snap); err != nil {
		return err
	}
	after, err := h.count(ctx)
	if err != nil {
		return err
	}
	if after != before-1 {
		return fmt.Errorf("%s count is %d, want %d after delete", h.Suite.Entity.Name(), after, before-1)
	}
	if _, err := h.Suite.Entity.Get(ctx, pk); !errors.Is(err, target.ErrNotFound) {
		return fmt.Errorf("%s %v still loads after delete (err %v)", h.Suite.Entity.Name(), pk, err)
	}
	return nil
}

func deleteMissing(ctx context.Context, h *Harness, s *scenario.Scenario, _ any) error {
	before, err := h.count(ctx)
	if err != nil {
		return err
	}
	resp, snap, err := s.Submit(ctx, form.Params{})
	if err != nil {
		return err
	}
	if err := h.expectMessage(resp, snap, http.StatusNotFound, messages.DeleteNotExists); err != nil {
		return err
	}
	return h.unchanged(ctx, before)
}

func (h *Harness) unchanged(ctx context.Context, before int) error {
	after, err := h.count(ctx)
	if err != nil {
		return err
	}
	if after != before {
		return fmt.Errorf("%s count changed from %d to %d", h.Suite.Entity.Name(), before, after)
	}
	return nil
}

// removed reads the soft-delete flag of pk
func (h *Harness) removed(ctx context.Context, pk any) (bool, error) {
	rec, err := h.Suite.Entity.Get(ctx, pk)
	if err != nil {
		return false, fmt.Errorf("failed to load %s %v: %w", h.Suite.Entity.Name(), pk, err)
	}
	return flagSet(rec.Values[h.Suite.Decl.RemoveField]), nil
}

func (h *Harness) setRemoved(ctx context.Context, pk any, removed bool) error {
	return h.Suite.Entity.Update(ctx, pk, map[string]any{h.Suite.Decl.RemoveField: removed})
}

func flagSet(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b || val == "on"
	case int64:
		return val != 0
	case int:
		return val != 0
	}
	return false
}

// toggle posts action and checks the flag afterwards
func (h *Harness) toggle(ctx context.Context, s *scenario.Scenario, pk any, action string, want bool) error {
	before, err := h.count(ctx)
	if err != nil {
		return err
	}
	resp, snap, err := s.Submit(ctx, form.Params{RemoveActionField: action})
	if err != nil {
		return err
	}
	if err := accepted(resp, snap); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if err := h.unchanged(ctx, before); err != nil {
		return err
	}
	got, err := h.removed(ctx, pk)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s flag is %t after %s, want %t", h.Suite.Decl.RemoveField, got, action, want)
	}
	return nil
}

func removeRestore(ctx context.Context, h *Harness, s *scenario.Scenario, pk any) error {
	if err := h.setRemoved(ctx, pk, false); err != nil {
		return err
	}
	if err := h.toggle(ctx, s, pk, ActionRemove, true); err != nil {
		return err
	}
	return h.toggle(ctx, s, pk, ActionRestore, false)
}

// refuse posts action on a row in the given state and expects kind
func refuse(action string, removed bool, kind messages.Kind) func(ctx context.Context, h *Harness, s *scenario.Scenario, pk any) error {
	return func(ctx context.Context, h *Harness, s *scenario.Scenario, pk any) error {
		if err := h.setRemoved(ctx, pk, removed); err != nil {
			return err
		}
		resp, snap, err := s.Submit(ctx, form.Params{RemoveActionField: action})
		if err != nil {
			return err
		}
		if err := h.expectMessage(resp, snap, http.StatusNotFound, kind); err != nil {
			return err
		}
		got, err := h.removed(ctx, pk)
		if err != nil {
			return err
		}
		if got != removed {
			return fmt.Errorf("%s flag changed to %t on a refused %s", h.Suite.Decl.RemoveField, got, action)
		}
		return nil
	}
}

func removeMissing(ctx context.Context, h *Harness, s *scenario.Scenario, _ any) error {
	resp, snap, err := s.Submit(ctx, form.Params{RemoveActionField: ActionRemove})
	if err != nil {
		return err
	}
	return h.expectMessage(resp, snap, http.StatusNotFound, messages.DeleteNotExists)
}

// listed fetches the list page with the given filter
func (h *Harness) listed(ctx context.Context, query url.Values) ([]string, error) {
	u := h.Suite.Decl.URLList
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := h.Suite.Client.Get(ctx, u, h.headers())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered %d", u, resp.StatusCode)
	}
	snap, err := h.Suite.Inspector.Inspect(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", u, err)
	}
	out := append([]string(nil), snap.Objects...)
	sort.Strings(out)
	return out, nil
}

// visible returns the keys of rows matching where that are not soft-deleted
func (h *Harness) visible(ctx context.Context, where map[string]any) ([]string, error) {
	rows, err := h.Suite.Entity.Filter(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s: %w", h.Suite.Entity.Name(), err)
	}
	out := []string{}
	for _, r := range rows {
		if f := h.Suite.Decl.RemoveField; f != "" && flagSet(r.Values[f]) {
			continue
		}
		out = append(out, fmt.Sprint(r.PK))
	}
	sort.Strings(out)
	return out, nil
}

func (h *Harness) sameList(ctx context.Context, query url.Values, where map[string]any) error {
	got, err := h.listed(ctx, query)
	if err != nil {
		return err
	}
	want, err := h.visible(ctx, where)
	if err != nil {
		return err
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("list %v shows %v, want %v", query, got, want)
	}
	return nil
}

// filters returns the declared list filters in field order
func (h *Harness) filters() []string {
	fields := make([]string, 0, len(h.Suite.Decl.List.Filters))
	for f := range h.Suite.Decl.List.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func listCase(flow, name string, fn func(ctx context.Context, h *Harness, s *scenario.Scenario) error, gates ...Gate) Case {
	return Case{
		Name:  name,
		Gates: append([]Gate{withEntity, With("url_list")}, gates...),
		Run: func(t *testing.T, h *Harness) {
			t.Cleanup(h.savepoint(t))
			s := h.pageScenario(t, flow, h.Suite.Decl.URLList, false)
			defer s.Finish()
			s.Step(name, func() error { return fn(t.Context(), h, s) })
		},
	}
}

var (
	// DeletePositive deletes the object
	DeletePositive = Flow{Name: FlowDeletePositive, Cases: []Case{
		objectCase(FlowDeletePositive, "delete", "url_delete", false, deleteObject, With("url_delete")),
	}}

	// DeleteNegative deletes a row that does not exist
	DeleteNegative = Flow{Name: FlowDeleteNegative, Cases: []Case{
		objectCase(FlowDeleteNegative, "not_exists", "url_delete", true, deleteMissing, With("url_delete")),
	}}

	// RemovePositive soft-deletes the object and restores it
	RemovePositive = Flow{Name: FlowRemovePositive, Cases: []Case{
		objectCase(FlowRemovePositive, "remove_restore", "url_remove", false, removeRestore, With("url_remove", "remove_field")),
	}}

	// RemoveNegative removes and restores rows in the wrong state
	RemoveNegative = Flow{Name: FlowRemoveNegative, Cases: []Case{
		objectCase(FlowRemoveNegative, "remove_removed", "url_remove", false,
			refuse(ActionRemove, true, messages.DeleteNotExists), With("url_remove", "remove_field")),
		objectCase(FlowRemoveNegative, "restore_not_removed", "url_remove", false,
			refuse(ActionRestore, false, messages.RecoveryNotExists), With("url_remove", "remove_field")),
		objectCase(FlowRemoveNegative, "not_exists", "url_remove", true, removeMissing, With("url_remove", "remove_field")),
	}}

	// ListPositive checks the list page and its filters against the entity
	ListPositive = Flow{Name: FlowListPositive, Cases: []Case{
		listCase(FlowListPositive, "all", func(ctx context.Context, h *Harness, _ *scenario.Scenario) error {
			return h.sameList(ctx, nil, nil)
		}, WithObj()),
		listCase(FlowListPositive, "filters", func(ctx context.Context, h *Harness, s *scenario.Scenario) error {
			for _, field := range h.filters() {
				for _, v := range h.Suite.Decl.List.Filters[field] {
					query := url.Values{field: {form.Render(v)}}
					s.Step(fmt.Sprintf("filter %s=%v", field, v), func() error {
						return h.sameList(ctx, query, map[string]any{field: form.Render(v)})
					})
				}
			}
			return nil
		}, With("list")),
	}}

	// ListNegative checks that the list leaves out what it must not show
	ListNegative = Flow{Name: FlowListNegative, Cases: []Case{
		listCase(FlowListNegative, "unmatched_filter", func(ctx context.Context, h *Harness, s *scenario.Scenario) error {
			for _, field := range h.filters() {
				value := "~" + h.Data.String(12, true)
				s.Step("filter "+field, func() error {
					got, err := h.listed(ctx, url.Values{field: {value}})
					if err != nil {
						return err
					}
					if len(got) > 0 {
						return fmt.Errorf("filter %s=%s shows %v, want none", field, value, got)
					}
					return nil
				})
			}
			return nil
		}, With("list")),
		listCase(FlowListNegative, "removed_hidden", func(ctx context.Context, h *Harness, _ *scenario.Scenario) error {
			pk, err := h.object(ctx)
			if err != nil {
				return err
			}
			if err := h.setRemoved(ctx, pk, true); err != nil {
				return err
			}
			got, err := h.listed(ctx, nil)
			if err != nil {
				return err
			}
			if slices.Contains(got, fmt.Sprint(pk)) {
				return fmt.Errorf("removed %s %v is listed", h.Suite.Entity.Name(), pk)
			}
			return nil
		}, WithObj(), With("remove_field")),
	}}
)
