// CLAUDE:SUMMARY Runtime page context (URL, user agent, cookies, storage) consumed by selection and conditions.
// Package env describes the runtime context a page load is evaluated in.
package env

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/visionbridge/kv"
)

// Cookie is one name=value pair from a cookie string.
type Cookie struct {
	Name  string
	Value string
}

// Context is the page-load context. Storage may be nil, in which case every
// storage read is Unavailable.
type Context struct {
	URL       *url.URL
	UserAgent string
	Storage   kv.Store

	cookies []Cookie
}

// New builds a Context from a page URL, a user agent, a raw cookie string
// ("a=1; b=2", as document.cookie or a Cookie header) and a storage backend.
func New(rawURL, userAgent, cookie string, storage kv.Store) (*Context, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("env: parse url: %w", err)
	}
	if storage == nil {
		storage = kv.Nop{}
	}
	return &Context{
		URL:       u,
		UserAgent: userAgent,
		Storage:   storage,
		cookies:   ParseCookies(cookie),
	}, nil
}

// Store returns the storage backend, never nil.
func (c *Context) Store() kv.Store {
	if c.Storage == nil {
		return kv.Nop{}
	}
	return c.Storage
}

// Hostname returns the URL host without port.
func (c *Context) Hostname() string {
	if c.URL == nil {
		return ""
	}
	return c.URL.Hostname()
}

// Path returns the URL path in its escaped form, as a browser's
// location.pathname reports it. It is "/" when empty.
func (c *Context) Path() string {
	if c.URL == nil {
		return "/"
	}
	if p := c.URL.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

// Query returns the parsed query string.
func (c *Context) Query() url.Values {
	if c.URL == nil {
		return url.Values{}
	}
	return c.URL.Query()
}

// Cookies returns the parsed cookie pairs in their original order.
func (c *Context) Cookies() []Cookie {
	return c.cookies
}

// HasCookie reports whether some cookie pair equals name=value exactly.
func (c *Context) HasCookie(name, value string) bool {
	for _, ck := range c.cookies {
		if ck.Name == name && ck.Value == value {
			return true
		}
	}
	return false
}

// ParseCookies splits a cookie string into pairs. It is deliberately
// lenient: a malformed pair never hides the others.
func ParseCookies(raw string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out = append(out, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}
