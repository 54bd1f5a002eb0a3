// CLAUDE:SUMMARY Deduplicates competing actions by resolution key, keeping the highest priority (last wins on ties).
// Package resolve implements conflict resolution between actions of one
// configuration.
//
// Two actions compete when they share a resolution key: the action type plus
// the first non-empty of selector, target and oldValue. Actions with none of
// these are keyed by their position and never compete with anything else.
package resolve

import (
	"strconv"

	"github.com/hazyhaar/visionbridge/rule"
)

// Key returns the resolution key of the action at index i.
func Key(a rule.Action, i int) string {
	k := string(a.Type) + "|"
	switch {
	case a.Selector != "":
		return k + "sel:" + a.Selector
	case a.Target != "":
		return k + "sel:" + a.Target
	case a.OldValue != "":
		return k + "old:" + a.OldValue
	}
	return k + "idx:" + strconv.Itoa(i)
}

// Resolve keeps one action per key: the one with the strictly greatest
// priority, the later one on ties. Output follows the order in which each
// key was first seen. The input is not modified.
func Resolve(actions []rule.Action) []rule.Action {
	order := make([]string, 0, len(actions))
	winners := make(map[string]rule.Action, len(actions))

	for i, a := range actions {
		key := Key(a, i)
		prev, seen := winners[key]
		if !seen {
			order = append(order, key)
			winners[key] = a
			continue
		}
		if a.Priority.Value() >= prev.Priority.Value() {
			winners[key] = a
		}
	}

	out := make([]rule.Action, 0, len(order))
	for _, key := range order {
		out = append(out, winners[key])
	}
	return out
}
