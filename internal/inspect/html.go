package inspect

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTML inspects rendered markup. Errors are read from elements with class
// "errorlist": the key is the data-field attribute of the element or its
// closest ancestor; class "nonfield" reports under the non-field key and
// class "nonform" under "<data-prefix>-<non-field key>". Flash messages are
// the <li> items of an element with class "messages"; listed rows are the
// elements carrying a data-pk attribute.
type HTML struct {
	NonFieldKey string
	Ignored     []string
}

var _ target.Inspector = (*HTML)(nil)

// NewHTML creates an HTML inspector with the default ignored inputs
func NewHTML(nonFieldKey string) *HTML {
	if nonFieldKey == "" {
		nonFieldKey = form.DefaultNonFieldKey
	}
	return &HTML{NonFieldKey: nonFieldKey, Ignored: DefaultIgnored}
}

// Inspect parses the response body
func (h *HTML) Inspect(resp *target.Response) (*target.Snapshot, error) {
	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response html: %w", err)
	}
	c := newCollector(h.Ignored)
	h.walk(c, doc, nil)
	return c.result(), nil
}

func (h *HTML) walk(c *collector, n *html.Node, current *target.FormInfo) {
	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Form:
			info := target.FormInfo{Prefix: attr(n, "data-prefix")}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				h.walk(c, child, &info)
			}
			c.snap.Forms = append(c.snap.Forms, finishForm(info)...)
			return
		case isInput(n):
			name := attr(n, "name")
			hidden := n.DataAtom == atom.Input && strings.EqualFold(attr(n, "type"), "hidden")
			disabled := hasAttr(n, "disabled") || hasAttr(n, "readonly")
			c.field(name, hidden, disabled)
			if current != nil {
				recordField(current, n, name, hidden, disabled, c.ignored)
			}
		case hasClass(n, "errorlist"):
			c.errors(h.errorKey(n), items(n)...)
			return
		case hasAttr(n, "data-pk"):
			c.object(attr(n, "data-pk"))
		case hasClass(n, "messages"):
			for _, msg := range items(n) {
				c.message(msg)
			}
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		h.walk(c, child, current)
	}
}

func (h *HTML) errorKey(n *html.Node) string {
	switch {
	case hasClass(n, "nonform"):
		return FormsetKey(closestAttr(n, "data-prefix"), h.NonFieldKey)
	case hasClass(n, "nonfield"):
		return h.NonFieldKey
	}
	if key := closestAttr(n, "data-field"); key != "" {
		return key
	}
	return h.NonFieldKey
}

func recordField(info *target.FormInfo, n *html.Node, name string, hidden, disabled bool, ignored form.Set) {
	if name == "" || ignored.Has(name) {
		return
	}
	if prefix, ok := isManagement(name); ok {
		info.Formset = true
		info.Prefix = prefix
		if strings.HasSuffix(name, "-TOTAL_FORMS") {
			info.Rows, _ = strconv.Atoi(attr(n, "value"))
		}
		return
	}
	for _, existing := range info.Fields {
		if existing == name {
			return
		}
	}
	info.Fields = append(info.Fields, name)
	if hidden {
		info.Hidden = append(info.Hidden, name)
	}
	if disabled {
		info.Disabled = append(info.Disabled, name)
	}
}

// finishForm splits a <form> holding formset management inputs into the
// main form and the formset.
func finishForm(info target.FormInfo) []target.FormInfo {
	if !info.Formset {
		return []target.FormInfo{info}
	}
	main := target.FormInfo{}
	set := target.FormInfo{Prefix: info.Prefix, Formset: true, Rows: info.Rows}
	for _, name := range info.Fields {
		dst := &main
		if strings.HasPrefix(name, info.Prefix+"-") {
			dst = &set
		}
		dst.Fields = append(dst.Fields, name)
		if contains(info.Hidden, name) {
			dst.Hidden = append(dst.Hidden, name)
		}
		if contains(info.Disabled, name) {
			dst.Disabled = append(dst.Disabled, name)
		}
	}
	if len(main.Fields) == 0 {
		return []target.FormInfo{set}
	}
	return []target.FormInfo{main, set}
}

func isInput(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Select, atom.Textarea:
		return true
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "submit", "button", "reset", "image":
			return false
		}
		return true
	}
	return false
}

// items returns the text of every <li> below n, or n's own text when it has none
func items(n *html.Node) []string {
	var out []string
	var find func(*html.Node)
	find = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Li {
			out = append(out, text(node))
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			find(child)
		}
	}
	find(n)
	if len(out) == 0 {
		if t := text(n); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func closestAttr(n *html.Node, key string) string {
	for node := n; node != nil; node = node.Parent {
		if node.Type == html.ElementNode {
			if v := attr(node, key); v != "" {
				return v
			}
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
