package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selectors support a subset of CSS:
//   - tag: "article", "div"
//   - .class, several classes: ".ad", ".ad.sticky"
//   - #id: "#hero"
//   - tag.class / tag#id: "div.banner", "section#top"
//   - [attr], [attr=val]: "[data-ad]", "a[rel=sponsored]"
//   - descendant combinator (space): "main .ad"
//   - selector lists: ".ad, .promo"
//
// Anything else (child or sibling combinators, pseudo-classes, "*") is a
// parse error.

type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasAttr bool
}

// selector is a parsed selector list; each entry is a descendant chain.
type selector [][]compound

func parseSelector(sel string) (selector, error) {
	var out selector
	for _, group := range strings.Split(sel, ",") {
		parts := strings.Fields(group)
		if len(parts) == 0 {
			return nil, fmt.Errorf("dom: empty selector in %q", sel)
		}
		chain := make([]compound, 0, len(parts))
		for _, p := range parts {
			c, err := parseCompound(p)
			if err != nil {
				return nil, err
			}
			chain = append(chain, c)
		}
		out = append(out, chain)
	}
	return out, nil
}

func parseCompound(sel string) (compound, error) {
	var c compound
	orig := sel

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		if !strings.HasSuffix(sel, "]") {
			return c, fmt.Errorf("dom: unterminated attribute selector %q", orig)
		}
		attrPart := sel[idx+1 : len(sel)-1]
		sel = sel[:idx]
		c.hasAttr = true
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			c.attrKey = attrPart[:eq]
			c.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
		} else {
			c.attrKey = attrPart
		}
		if c.attrKey == "" {
			return c, fmt.Errorf("dom: empty attribute name in %q", orig)
		}
		if r, ok := firstUnsupported(c.attrKey, ""); ok {
			return c, fmt.Errorf("dom: unsupported character %q in attribute selector %q", r, orig)
		}
		if strings.ContainsAny(c.attrVal, "[]") {
			return c, fmt.Errorf("dom: one attribute selector per compound in %q", orig)
		}
	}
	// Outside the brackets only names, '#' and '.' remain.
	if r, ok := firstUnsupported(sel, "#."); ok {
		return c, fmt.Errorf("dom: unsupported selector syntax %q in %q", r, orig)
	}

	// Split "tag#id.a.b" on '#' and '.' boundaries.
	for sel != "" {
		next := strings.IndexAny(sel[1:], "#.")
		var tok string
		if next < 0 {
			tok, sel = sel, ""
		} else {
			tok, sel = sel[:next+1], sel[next+1:]
		}
		switch tok[0] {
		case '#':
			if tok[1:] == "" {
				return c, fmt.Errorf("dom: empty id in selector %q", orig)
			}
			c.id = tok[1:]
		case '.':
			if tok[1:] == "" {
				return c, fmt.Errorf("dom: empty class in selector")
			}
			c.classes = append(c.classes, tok[1:])
		default:
			c.tag = strings.ToLower(tok)
		}
	}
	return c, nil
}

// firstUnsupported returns the first rune of s that is not a name character
// or one of extra.
func firstUnsupported(s, extra string) (rune, bool) {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_':
		case strings.ContainsRune(extra, r):
		default:
			return r, true
		}
	}
	return 0, false
}

// match returns all element nodes under root matching s, in document order
// and without duplicates.
func (s selector) match(root *html.Node) []*html.Node {
	hit := make(map[*html.Node]bool)
	for _, chain := range s {
		for _, n := range matchChain(root, chain) {
			hit[n] = true
		}
	}
	var out []*html.Node
	walk(root, func(n *html.Node) {
		if hit[n] {
			out = append(out, n)
		}
	})
	return out
}

func matchChain(root *html.Node, chain []compound) []*html.Node {
	matches := matchDescendants(root, chain[0])
	for i := 1; i < len(chain); i++ {
		seen := make(map[*html.Node]bool)
		var next []*html.Node
		for _, parent := range matches {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				for _, n := range matchDescendants(c, chain[i]) {
					if !seen[n] {
						seen[n] = true
						next = append(next, n)
					}
				}
			}
		}
		matches = next
	}
	return matches
}

func matchDescendants(root *html.Node, c compound) []*html.Node {
	var results []*html.Node
	walk(root, func(n *html.Node) {
		if c.matches(n) {
			results = append(results, n)
		}
	})
	return results
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	if c.hasAttr {
		val, ok := lookupAttr(n, c.attrKey)
		if !ok {
			return false
		}
		if c.attrVal != "" && val != c.attrVal {
			return false
		}
	}
	return true
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
