// CLAUDE:SUMMARY Evaluates action conditions (url, host, user agent, login state, query/storage/cookie maps) against a page context.
// Package condition decides whether an action is eligible for the current
// page. Every supplied clause must hold; a nil condition always holds.
package condition

import (
	"context"
	"strings"

	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/kv"
	"github.com/hazyhaar/visionbridge/rule"
)

// LoginKey is the storage key and cookie name carrying the login flag.
const LoginKey = "isLoggedIn"

// Matches reports whether cond holds for pc. Evaluation stops at the first
// failing clause.
func Matches(ctx context.Context, cond *rule.Condition, pc *env.Context) bool {
	if cond == nil {
		return true
	}
	if cond.URL != "" && pc.Path() != cond.URL {
		return false
	}
	if cond.Host != "" && pc.Hostname() != cond.Host {
		return false
	}
	if cond.UserAgentIncludes != "" && !strings.Contains(pc.UserAgent, cond.UserAgentIncludes) {
		return false
	}
	if cond.IsLoggedIn != nil && *cond.IsLoggedIn != LoggedIn(ctx, pc) {
		return false
	}
	if len(cond.QueryParam) > 0 {
		q := pc.Query()
		for k, want := range cond.QueryParam {
			got, ok := q[k]
			if !ok || len(got) == 0 || got[0] != want {
				return false
			}
		}
	}
	for k, want := range cond.LocalStorage {
		v := pc.Store().Get(ctx, k)
		if v.Outcome == kv.Unavailable || !v.Is(want) {
			return false
		}
	}
	for k, want := range cond.Cookie {
		if !pc.HasCookie(k, want) {
			return false
		}
	}
	return true
}

// LoggedIn reports the observed login flag: storage entry "isLoggedIn" equal
// to "true" OR a cookie isLoggedIn=true. An unavailable store counts as false.
func LoggedIn(ctx context.Context, pc *env.Context) bool {
	if pc.Store().Get(ctx, LoginKey).Is("true") {
		return true
	}
	return pc.HasCookie(LoginKey, "true")
}
