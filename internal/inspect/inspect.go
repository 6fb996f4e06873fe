// Package inspect extracts forms, form errors and flash messages from
// rendered responses. HTML walks the markup; JSON reads a context document
// emitted by the application.
package inspect

import (
	"fmt"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// ContextHeader carries a JSON form context when the body is HTML
const ContextHeader = "X-Form-Context"

var managementSuffixes = []string{"-TOTAL_FORMS", "-INITIAL_FORMS", "-MIN_NUM_FORMS", "-MAX_NUM_FORMS"}

// DefaultIgnored lists inputs that are never form fields
var DefaultIgnored = []string{"csrfmiddlewaretoken", "csrf_token"}

// FormsetKey returns the error key of a formset's non-form errors
func FormsetKey(prefix, nonFieldKey string) string {
	return prefix + "-" + nonFieldKey
}

// RowKey returns the key of a formset row field
func RowKey(prefix string, index int, field string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, index, field)
}

// isManagement reports whether name is a formset management input and returns its prefix
func isManagement(name string) (string, bool) {
	for _, suffix := range managementSuffixes {
		if prefix, ok := strings.CutSuffix(name, suffix); ok {
			return prefix, true
		}
	}
	return "", false
}

// collector accumulates a Snapshot while walking a response
type collector struct {
	snap     target.Snapshot
	seen     form.Set
	hidden   form.Set
	disabled form.Set
	ignored  form.Set
}

func newCollector(ignored []string) *collector {
	return &collector{
		snap: target.Snapshot{
			Errors: make(map[string][]string),
		},
		seen:     make(form.Set),
		hidden:   make(form.Set),
		disabled: make(form.Set),
		ignored:  form.NewSet(ignored...),
	}
}

func (c *collector) field(name string, hidden, disabled bool) {
	if name == "" || c.ignored.Has(name) {
		return
	}
	if _, ok := isManagement(name); ok {
		return
	}
	if !c.seen.Has(name) {
		c.seen.Add(name)
		c.snap.AllFields = append(c.snap.AllFields, name)
	}
	if hidden {
		c.hidden.Add(name)
	}
	if disabled {
		c.disabled.Add(name)
	}
}

func (c *collector) errors(key string, msgs ...string) {
	for _, m := range msgs {
		m = strings.TrimSpace(m)
		if m != "" {
			c.snap.Errors[key] = append(c.snap.Errors[key], m)
		}
	}
}

func (c *collector) message(msg string) {
	if msg = strings.TrimSpace(msg); msg != "" {
		c.snap.Messages = append(c.snap.Messages, msg)
	}
}

func (c *collector) object(pk string) {
	if pk = strings.TrimSpace(pk); pk != "" {
		c.snap.Objects = append(c.snap.Objects, pk)
	}
}

func (c *collector) result() *target.Snapshot {
	for _, name := range c.snap.AllFields {
		switch {
		case c.disabled.Has(name):
			c.snap.DisabledFields = append(c.snap.DisabledFields, name)
		case c.hidden.Has(name):
			c.snap.HiddenFields = append(c.snap.HiddenFields, name)
		default:
			c.snap.VisibleFields = append(c.snap.VisibleFields, name)
		}
	}
	snap := c.snap
	return &snap
}
