// CLAUDE:SUMMARY Document mutation capability (remove, replace, insert, text substitution) and its x/net/html implementation.
// Package dom defines the mutation primitives actions are applied through and
// an in-memory HTML document implementing them.
//
// Usage:
//
//	doc, err := dom.Parse(strings.NewReader(page))
//	n, err := doc.RemoveAll(".ad")
//	doc.Render(os.Stdout)
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/visionbridge/rule"
)

// Document is a mutable page. Every method returns the number of nodes it
// changed. Implementations: *HTML (in memory) and browser.Tab (live page).
type Document interface {
	RemoveAll(selector string) (int, error)
	ReplaceAll(selector, fragment string) (int, error)
	InsertAll(target, fragment string, pos rule.Position) (int, error)
	SubstituteText(oldValue, newValue string) (int, error)
}

// HTML is a parsed document held in memory. It is not safe for concurrent
// use; callers serialise passes with their own lock.
type HTML struct {
	root *html.Node
}

var _ Document = (*HTML)(nil)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*HTML, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &HTML{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*HTML, error) {
	return Parse(strings.NewReader(s))
}

// RemoveAll deletes every element matching selector.
func (d *HTML) RemoveAll(selector string) (int, error) {
	nodes, err := d.query(selector)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, node := range nodes {
		if node.Parent == nil {
			continue
		}
		node.Parent.RemoveChild(node)
		n++
	}
	return n, nil
}

// ReplaceAll substitutes every element matching selector with a fresh copy
// of the fragment's first element.
func (d *HTML) ReplaceAll(selector, fragment string) (int, error) {
	nodes, err := d.query(selector)
	if err != nil {
		return 0, err
	}
	tmpl, err := firstElement(fragment)
	if err != nil || tmpl == nil {
		return 0, err
	}
	n := 0
	for _, node := range nodes {
		if node.Parent == nil {
			continue
		}
		node.Parent.InsertBefore(cloneNode(tmpl), node)
		node.Parent.RemoveChild(node)
		n++
	}
	return n, nil
}

// InsertAll places a fresh copy of the fragment's first element relative to
// every element matching target. Void elements (img, input, br...) cannot
// hold children, so prepend and append skip them.
func (d *HTML) InsertAll(target, fragment string, pos rule.Position) (int, error) {
	nodes, err := d.query(target)
	if err != nil {
		return 0, err
	}
	tmpl, err := firstElement(fragment)
	if err != nil || tmpl == nil {
		return 0, err
	}
	n := 0
	for _, node := range nodes {
		c := cloneNode(tmpl)
		switch pos.Normalize() {
		case rule.PositionBefore:
			if node.Parent == nil {
				continue
			}
			node.Parent.InsertBefore(c, node)
		case rule.PositionAfter:
			if node.Parent == nil {
				continue
			}
			node.Parent.InsertBefore(c, node.NextSibling)
		case rule.PositionPrepend:
			if isVoid(node) {
				continue
			}
			node.InsertBefore(c, node.FirstChild)
		default:
			if isVoid(node) {
				continue
			}
			node.AppendChild(c)
		}
		n++
	}
	return n, nil
}

// voidElements cannot have child nodes; html.Render rejects them if they do.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Track: true,
	atom.Wbr: true,
}

func isVoid(n *html.Node) bool {
	return n.Type == html.ElementNode && voidElements[n.DataAtom]
}

// SubstituteText replaces every occurrence of oldValue with newValue in the
// text nodes under <body>. Script and style contents are left alone. An
// empty oldValue changes nothing.
func (d *HTML) SubstituteText(oldValue, newValue string) (int, error) {
	if oldValue == "" {
		return 0, nil
	}
	scope := d.body()
	if scope == nil {
		scope = d.root
	}
	n := 0
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.DataAtom == atom.Script || node.DataAtom == atom.Style) {
			return
		}
		if node.Type == html.TextNode && strings.Contains(node.Data, oldValue) {
			node.Data = strings.ReplaceAll(node.Data, oldValue, newValue)
			n++
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(scope)
	return n, nil
}

// Count returns how many elements match selector.
func (d *HTML) Count(selector string) (int, error) {
	nodes, err := d.query(selector)
	return len(nodes), err
}

// Text returns the concatenated text under <body>, script and style excluded.
func (d *HTML) Text() string {
	scope := d.body()
	if scope == nil {
		scope = d.root
	}
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.DataAtom == atom.Script || node.DataAtom == atom.Style) {
			return
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(scope)
	return b.String()
}

// Render writes the document as HTML.
func (d *HTML) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("dom: render: %w", err)
	}
	return nil
}

// String returns the rendered document, or "" if rendering fails.
func (d *HTML) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func (d *HTML) query(selector string) ([]*html.Node, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	return sel.match(d.root), nil
}

func (d *HTML) body() *html.Node {
	var found *html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(d.root)
	return found
}

// firstElement parses src in a <body> context and returns its first
// top-level element, or nil when there is none.
func firstElement(src string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, nil
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneNode(ch))
	}
	return c
}
