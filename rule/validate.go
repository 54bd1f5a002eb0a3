package rule

import (
	"fmt"
	"regexp"
)

var selectorPattern = regexp.MustCompile(`^[a-zA-Z0-9.#\-_:\[\]='"]+$`)

// ValidSelector reports whether sel only uses the characters accepted for
// stored selectors: tag, class, id and attribute forms without combinators.
func ValidSelector(sel string) bool {
	return sel != "" && selectorPattern.MatchString(sel)
}

// InvalidActionError describes the first action rejected by ValidateActions.
type InvalidActionError struct {
	Index  int
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("rule: action %d: %s", e.Index, e.Reason)
}

// ValidateActions checks stored actions and returns a sanitised copy.
// Unknown kinds and malformed selectors reject the whole list. HTML
// fragments are passed through sanitize when it is non-nil.
func ValidateActions(actions []Action, sanitize func(string) string) ([]Action, error) {
	out := make([]Action, 0, len(actions))
	for i, a := range actions {
		if !a.Type.Known() {
			return nil, &InvalidActionError{Index: i, Reason: fmt.Sprintf("unknown type %q", a.Type)}
		}
		if a.Type != KindAlter {
			if a.Selector != "" && !ValidSelector(a.Selector) {
				return nil, &InvalidActionError{Index: i, Reason: fmt.Sprintf("invalid selector %q", a.Selector)}
			}
			if a.Target != "" && !ValidSelector(a.Target) {
				return nil, &InvalidActionError{Index: i, Reason: fmt.Sprintf("invalid target %q", a.Target)}
			}
			if sanitize != nil {
				if a.Element != "" {
					a.Element = sanitize(a.Element)
				}
				if a.NewElement != "" {
					a.NewElement = sanitize(a.NewElement)
				}
			}
		}
		out = append(out, a)
	}
	return out, nil
}
