package dom

import (
	"strings"
	"testing"

	"github.com/hazyhaar/visionbridge/rule"
)

const page = `<!DOCTYPE html>
<html><head><title>Shop</title><style>.Sale{}</style></head>
<body>
<main id="content">
  <div class="ad">one</div>
  <section id="hero" class="banner wide"><h1>Spring Sale</h1></section>
  <div class="card"><span class="ad sticky">two</span><a href="/x" rel="sponsored">x</a></div>
  <p>Big Sale today. Sale ends soon.</p>
</main>
<footer><div class="ad">three</div><p>Sale footer</p></footer>
<script>var label = "Sale";</script>
</body></html>`

func mustParse(t *testing.T, s string) *HTML {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func count(t *testing.T, d *HTML, sel string) int {
	t.Helper()
	n, err := d.Count(sel)
	if err != nil {
		t.Fatalf("count %q: %v", sel, err)
	}
	return n
}

func TestSelector_Subset(t *testing.T) {
	d := mustParse(t, page)
	tests := []struct {
		sel  string
		want int
	}{
		{"div", 3},
		{".ad", 3},
		{".ad.sticky", 1},
		{"span.ad", 1},
		{"#hero", 1},
		{"section#hero.banner.wide", 1},
		{"[rel]", 1},
		{"a[rel=sponsored]", 1},
		{"a[rel='sponsored']", 1},
		{"a[rel=nofollow]", 0},
		{"main .ad", 2},
		{"footer .ad", 1},
		{"main div .ad", 1},
		{".ad, #hero", 4},
		{".ad, .ad", 3},
		{"DIV.card", 1},
		{".missing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			if got := count(t, d, tt.sel); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelector_Invalid(t *testing.T) {
	d := mustParse(t, page)
	for _, sel := range []string{
		"", "  ", ".ad,", "div[rel", "div[]", ".", "#",
		"main > .ad", "main>.ad", "h1 + p", "h1 ~ p", "a:hover", "p::first-line",
		"*", "div *", "a[rel][href]", "a[re l]",
	} {
		if _, err := d.Count(sel); err == nil {
			t.Errorf("selector %q: expected error", sel)
		}
	}
}

func TestSelector_DocumentOrder(t *testing.T) {
	d := mustParse(t, page)
	nodes, err := d.query("footer .ad, main .ad")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	if len(nodes) != len(want) {
		t.Fatalf("got %d nodes", len(nodes))
	}
	for i, n := range nodes {
		if n.FirstChild == nil || n.FirstChild.Data != want[i] {
			t.Errorf("node %d: got %q, want %q", i, n.FirstChild.Data, want[i])
		}
	}
}

func TestRemoveAll(t *testing.T) {
	d := mustParse(t, page)
	n, err := d.RemoveAll(".ad")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("removed %d, want 3", n)
	}
	if got := count(t, d, ".ad"); got != 0 {
		t.Fatalf("%d .ad left", got)
	}
	if !strings.Contains(d.String(), `<a href="/x" rel="sponsored">x</a>`) {
		t.Fatal("sibling of removed node lost")
	}

	n, err = d.RemoveAll(".ad")
	if err != nil || n != 0 {
		t.Fatalf("second pass: n=%d err=%v", n, err)
	}
}

func TestReplaceAll(t *testing.T) {
	d := mustParse(t, page)
	n, err := d.ReplaceAll(".ad", `<aside class="house">ours</aside><b>ignored</b>`)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("replaced %d, want 3", n)
	}
	if got := count(t, d, "aside.house"); got != 3 {
		t.Fatalf("got %d replacements", got)
	}
	if got := count(t, d, "b"); got != 0 {
		t.Fatal("only the first fragment element is used")
	}
	if got := count(t, d, ".card aside"); got != 1 {
		t.Fatal("replacement not placed where the original was")
	}
}

func TestReplaceAll_NoElement(t *testing.T) {
	d := mustParse(t, page)
	for _, frag := range []string{"", "just text", "<!-- c -->"} {
		n, err := d.ReplaceAll(".ad", frag)
		if err != nil || n != 0 {
			t.Fatalf("fragment %q: n=%d err=%v", frag, n, err)
		}
	}
	if got := count(t, d, ".ad"); got != 3 {
		t.Fatal("document changed by an element-less fragment")
	}
}

func TestInsertAll_Positions(t *testing.T) {
	tests := []struct {
		pos  rule.Position
		want string
	}{
		{rule.PositionBefore, `<div id="t"><i>n</i><p id="x">x</p></div>`},
		{rule.PositionAfter, `<div id="t"><p id="x">x</p><i>n</i></div>`},
		{rule.PositionPrepend, `<div id="t"><p id="x"><i>n</i>x</p></div>`},
		{rule.PositionAppend, `<div id="t"><p id="x">x<i>n</i></p></div>`},
		{"", `<div id="t"><p id="x">x<i>n</i></p></div>`},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			d := mustParse(t, `<div id="t"><p id="x">x</p></div>`)
			n, err := d.InsertAll("#x", "<i>n</i>", tt.pos)
			if err != nil || n != 1 {
				t.Fatalf("n=%d err=%v", n, err)
			}
			if got := d.String(); !strings.Contains(got, tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInsertAll_VoidTargets(t *testing.T) {
	const src = `<div id="t"><img class="v" src="a.png"><br class="v"><input class="v"><p class="v">x</p></div>`
	tests := []struct {
		pos  rule.Position
		want int
	}{
		{rule.PositionPrepend, 1},
		{rule.PositionAppend, 1},
		{rule.PositionBefore, 4},
		{rule.PositionAfter, 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			d := mustParse(t, src)
			n, err := d.InsertAll(".v", `<em class="tag">n</em>`, tt.pos)
			if err != nil || n != tt.want {
				t.Fatalf("n=%d err=%v, want %d", n, err, tt.want)
			}
			var buf strings.Builder
			if err := d.Render(&buf); err != nil {
				t.Fatalf("render after insert: %v", err)
			}
			if got := count(t, d, ".tag"); got != tt.want {
				t.Fatalf("got %d inserted, want %d", got, tt.want)
			}
		})
	}
}

func TestInsertAll_FreshClonePerMatch(t *testing.T) {
	d := mustParse(t, page)
	n, err := d.InsertAll(".ad", `<em class="tag">x</em>`, rule.PositionAppend)
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if got := count(t, d, ".ad .tag"); got != 3 {
		t.Fatalf("got %d inserted copies, want 3", got)
	}
}

func TestSubstituteText_AllNodesAllOccurrences(t *testing.T) {
	d := mustParse(t, page)
	n, err := d.SubstituteText("Sale", "Clearance")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("changed %d text nodes, want 3", n)
	}
	text := d.Text()
	if strings.Contains(text, "Sale") {
		t.Fatalf("Sale left in body text: %q", text)
	}
	if strings.Count(text, "Clearance") != 4 {
		t.Fatalf("got %d Clearance, want 4", strings.Count(text, "Clearance"))
	}
	out := d.String()
	if !strings.Contains(out, `var label = "Sale";`) {
		t.Fatal("script content must not change")
	}
	if !strings.Contains(out, `.Sale{}`) {
		t.Fatal("style content must not change")
	}
	if !strings.Contains(out, "<title>Shop</title>") {
		t.Fatal("head content must not change")
	}
}

func TestSubstituteText_EmptyOldValue(t *testing.T) {
	d := mustParse(t, page)
	before := d.String()
	n, err := d.SubstituteText("", "x")
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if d.String() != before {
		t.Fatal("document changed")
	}
}

func TestMarkdown(t *testing.T) {
	d := mustParse(t, `<html><body><h1>Title</h1><p>See <a href="/docs">docs</a></p></body></html>`)
	md, err := d.Markdown("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "# Title") {
		t.Fatalf("heading missing: %q", md)
	}
	if !strings.Contains(md, "https://example.com/docs") {
		t.Fatalf("link not resolved: %q", md)
	}
}
