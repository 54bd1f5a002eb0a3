// CLAUDE:SUMMARY Maps a URL path to a coarse page-type label with a fixed, ordered rule list.
// Package pagetype classifies URL paths into semantic page types used by
// configuration selection. The rule list is a fixed priority order: the
// first matching rule wins, there is no scoring.
package pagetype

import "strings"

// Label is a page-type name.
type Label string

const (
	Home     Label = "home"
	Details  Label = "details"
	Cart     Label = "cart"
	Checkout Label = "checkout"
	Search   Label = "search"
	Listing  Label = "listing"
	Account  Label = "account"
	Login    Label = "login"
	Blog     Label = "blog"
)

type matchRule struct {
	label    Label
	exact    []string
	contains []string
}

var rules = []matchRule{
	{label: Home, exact: []string{"", "/"}},
	{label: Details, contains: []string{"/product/", "/p/", "/item/"}},
	{label: Cart, contains: []string{"/cart", "/basket"}},
	{label: Checkout, contains: []string{"/checkout"}},
	{label: Search, contains: []string{"/search"}},
	{label: Listing, contains: []string{"/category/", "/collections/", "/c/"}},
	{label: Account, contains: []string{"/account", "/profile"}},
	{label: Login, contains: []string{"/login", "/signin"}},
	{label: Blog, contains: []string{"/blog/"}},
}

// Classify returns the label of the first rule matching path, or false.
func Classify(path string) (Label, bool) {
	p := strings.ToLower(path)
	for _, r := range rules {
		for _, e := range r.exact {
			if p == e {
				return r.label, true
			}
		}
		for _, c := range r.contains {
			if strings.Contains(p, c) {
				return r.label, true
			}
		}
	}
	return "", false
}

// Labels lists every label in rule order.
func Labels() []Label {
	out := make([]Label, len(rules))
	for i, r := range rules {
		out[i] = r.label
	}
	return out
}
