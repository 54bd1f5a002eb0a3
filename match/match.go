// CLAUDE:SUMMARY Picks the active configuration by tier: page type, host, exact URL, URL prefix, then list head.
// Package match selects one configuration out of a candidate list for the
// current page. Tiers are tried strictly in order and, within a tier, the
// candidate list is scanned top to bottom.
package match

import (
	"strings"

	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/pagetype"
	"github.com/hazyhaar/visionbridge/rule"
)

// Tier names the rule that selected a configuration.
type Tier string

const (
	TierPage      Tier = "page"
	TierHost      Tier = "host"
	TierURL       Tier = "url"
	TierURLPrefix Tier = "url-prefix"
	TierDefault   Tier = "default"
)

// Selection is the outcome of Select.
type Selection struct {
	Config   *rule.Configuration
	Index    int
	Tier     Tier
	PageType pagetype.Label
}

// Select picks the active configuration for ctx. It returns false only for
// an empty candidate list.
func Select(configs []rule.Configuration, ctx *env.Context) (Selection, bool) {
	if len(configs) == 0 {
		return Selection{}, false
	}
	path := ctx.Path()
	host := ctx.Hostname()
	label, hasLabel := pagetype.Classify(path)

	pick := func(i int, t Tier) (Selection, bool) {
		return Selection{Config: &configs[i], Index: i, Tier: t, PageType: label}, true
	}

	if hasLabel {
		if i := scan(configs, func(ds *rule.Datasource) bool { return ds.Pages[string(label)] }); i >= 0 {
			return pick(i, TierPage)
		}
	}
	if i := scan(configs, func(ds *rule.Datasource) bool { return ds.Hosts[host] }); i >= 0 {
		return pick(i, TierHost)
	}
	if i := scan(configs, func(ds *rule.Datasource) bool { return ds.URLs[path] }); i >= 0 {
		return pick(i, TierURL)
	}
	if i := scan(configs, func(ds *rule.Datasource) bool { return prefixMatch(ds.URLs, path) }); i >= 0 {
		return pick(i, TierURLPrefix)
	}
	return pick(0, TierDefault)
}

func scan(configs []rule.Configuration, ok func(*rule.Datasource) bool) int {
	for i := range configs {
		if ds := configs[i].Datasource; ds != nil && ok(ds) {
			return i
		}
	}
	return -1
}

func prefixMatch(urls map[string]bool, path string) bool {
	for pattern, enabled := range urls {
		if enabled && pattern != "" && strings.HasPrefix(path, pattern) {
			return true
		}
	}
	return false
}
