package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/visionbridge/dom"
	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/rule"
)

// Tab is a live page. It implements dom.Document; each method runs one
// script in the page and returns the number of nodes it touched.
type Tab struct {
	Page    *rod.Page
	PageURL string

	ctx context.Context
}

var _ dom.Document = (*Tab)(nil)

// OpenTab creates a stealth tab and navigates to pageURL. Script calls on
// the returned Tab are bound to ctx.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.WarnContext(ctx, "browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.WarnContext(ctx, "browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{Page: page, PageURL: pageURL, ctx: ctx}, nil
}

func (t *Tab) eval(js string, args ...any) (int, error) {
	res, err := t.Page.Context(t.ctx).Eval(js, args...)
	if err != nil {
		return 0, fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Int(), nil
}

const jsRemove = `(sel) => {
	const els = document.querySelectorAll(sel);
	els.forEach(e => e.remove());
	return els.length;
}`

const jsReplace = `(sel, html) => {
	const t = document.createElement('template');
	t.innerHTML = html;
	const first = t.content.firstElementChild;
	if (!first) return 0;
	let n = 0;
	document.querySelectorAll(sel).forEach(e => { e.replaceWith(first.cloneNode(true)); n++; });
	return n;
}`

const jsInsert = `(sel, html, where) => {
	const t = document.createElement('template');
	t.innerHTML = html;
	const first = t.content.firstElementChild;
	if (!first) return 0;
	const inside = where === 'afterbegin' || where === 'beforeend';
	const voids = new Set(['AREA', 'BASE', 'BR', 'COL', 'EMBED', 'HR', 'IMG', 'INPUT', 'LINK', 'META', 'SOURCE', 'TRACK', 'WBR']);
	let n = 0;
	document.querySelectorAll(sel).forEach(e => {
		if (inside && voids.has(e.tagName)) return;
		e.insertAdjacentElement(where, first.cloneNode(true));
		n++;
	});
	return n;
}`

const jsSubstitute = `(oldV, newV) => {
	if (!oldV) return 0;
	const root = document.body || document.documentElement;
	const w = document.createTreeWalker(root, NodeFilter.SHOW_TEXT, {
		acceptNode: (node) => {
			const p = node.parentElement;
			return p && p.closest('script,style') ? NodeFilter.FILTER_REJECT : NodeFilter.FILTER_ACCEPT;
		},
	});
	let n = 0, node;
	while ((node = w.nextNode())) {
		if (node.nodeValue.includes(oldV)) {
			node.nodeValue = node.nodeValue.split(oldV).join(newV);
			n++;
		}
	}
	return n;
}`

// RemoveAll deletes every element matching selector.
func (t *Tab) RemoveAll(selector string) (int, error) {
	return t.eval(jsRemove, selector)
}

// ReplaceAll swaps matches for a clone of the fragment's first element.
func (t *Tab) ReplaceAll(selector, fragment string) (int, error) {
	return t.eval(jsReplace, selector, fragment)
}

// InsertAll inserts a clone of the fragment's first element at pos.
func (t *Tab) InsertAll(target, fragment string, pos rule.Position) (int, error) {
	return t.eval(jsInsert, target, fragment, insertWhere(pos))
}

// SubstituteText replaces oldValue with newValue in body text nodes.
func (t *Tab) SubstituteText(oldValue, newValue string) (int, error) {
	return t.eval(jsSubstitute, oldValue, newValue)
}

// insertWhere maps a position onto insertAdjacentElement's argument.
func insertWhere(pos rule.Position) string {
	switch pos.Normalize() {
	case rule.PositionBefore:
		return "beforebegin"
	case rule.PositionAfter:
		return "afterend"
	case rule.PositionPrepend:
		return "afterbegin"
	}
	return "beforeend"
}

// HTML serialises the current DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Context builds the page context from location, user agent, cookies and
// window.localStorage.
func (t *Tab) Context(ctx context.Context) (*env.Context, error) {
	res, err := t.Page.Context(ctx).Eval(`() => ({
		href: location.href,
		ua: navigator.userAgent,
		cookie: document.cookie,
	})`)
	if err != nil {
		return nil, fmt.Errorf("browser: page context: %w", err)
	}
	v := res.Value
	return env.New(v.Get("href").Str(), v.Get("ua").Str(), v.Get("cookie").Str(), t.LocalStorage())
}

// LocalStorage returns the page's window.localStorage as a kv.Store.
func (t *Tab) LocalStorage() *LocalStorage {
	return &LocalStorage{page: t.Page}
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
