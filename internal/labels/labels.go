// Package labels selects cases by glob label. Case identifiers are dotted
// paths such as "product.add.length-max"; a label matches an identifier
// when its glob matches the whole path or a leading run of its segments.
package labels

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Compile turns a glob label into an anchored regular expression. "*"
// matches any run of characters, "?" a single one.
func Compile(label string) (*regexp.Regexp, error) {
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("empty label")
	}
	re, err := regexp.Compile("^" + globToRegex(label) + `(\..*)?$`)
	if err != nil {
		return nil, fmt.Errorf("invalid label %q: %w", label, err)
	}
	return re, nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Selector keeps identifiers matching any include label and no exclude label
type Selector struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// New compiles the include and exclude labels. No include labels selects
// everything not excluded.
func New(include, exclude []string) (*Selector, error) {
	s := &Selector{}
	for _, l := range include {
		re, err := Compile(l)
		if err != nil {
			return nil, err
		}
		s.include = append(s.include, re)
	}
	for _, l := range exclude {
		re, err := Compile(l)
		if err != nil {
			return nil, err
		}
		s.exclude = append(s.exclude, re)
	}
	return s, nil
}

// MustMatch reports whether id matches an include label, or whether there
// are none
func (s *Selector) MustMatch(id string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, re := range s.include {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

// MustNotMatch reports whether id is clear of every exclude label
func (s *Selector) MustNotMatch(id string) bool {
	for _, re := range s.exclude {
		if re.MatchString(id) {
			return false
		}
	}
	return true
}

// Match reports whether id is selected
func (s *Selector) Match(id string) bool {
	return s.MustMatch(id) && s.MustNotMatch(id)
}

// Filter returns the selected identifiers in order
func (s *Selector) Filter(ids []string) []string {
	var out []string
	for _, id := range ids {
		if s.Match(id) {
			out = append(out, id)
		}
	}
	return out
}

// RunPattern renders labels as a `go test -run` expression. Each dotted
// segment becomes one slash-separated level and several labels are merged
// per level, so the expression can select more than the labels alone; pair
// it with a Selector when the exact set matters. A non-empty root names
// the top-level test function the cases run under.
func RunPattern(root string, labels []string) string {
	var split [][]string
	depth := 0
	for _, l := range labels {
		segs := strings.Split(l, ".")
		split = append(split, segs)
		if len(segs) > depth {
			depth = len(segs)
		}
	}

	parts := make([]string, depth)
	for i := range parts {
		var alts []string
		open := false
		for _, segs := range split {
			if i >= len(segs) {
				open = true
				break
			}
			alt := "^" + globToRegex(segs[i]) + "$"
			if !slices.Contains(alts, alt) {
				alts = append(alts, alt)
			}
		}
		switch {
		case open:
			parts[i] = ".*"
		case len(alts) == 1:
			parts[i] = alts[0]
		default:
			parts[i] = "(" + strings.Join(alts, "|") + ")"
		}
	}
	if root != "" {
		parts = append([]string{"^" + regexp.QuoteMeta(root) + "$"}, parts...)
	}
	return strings.Join(parts, "/")
}
