// CLAUDE:SUMMARY Configuration, Datasource, Action and Condition types: the wire model fetched by the agent and served by configserver.
// Package rule defines the declarative page-mutation model.
//
// A Configuration bundles a Datasource (which pages it targets) with an
// ordered list of Actions (what to change). Actions carry an optional
// Priority used for conflict resolution and an optional Condition gating
// them on the runtime context.
package rule

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind enumerates the supported action types.
type Kind string

const (
	KindRemove  Kind = "remove"
	KindReplace Kind = "replace"
	KindInsert  Kind = "insert"
	KindAlter   Kind = "alter"
)

// Known reports whether k is one of the four supported kinds.
func (k Kind) Known() bool {
	switch k {
	case KindRemove, KindReplace, KindInsert, KindAlter:
		return true
	}
	return false
}

// Position controls where an insert action places its fragment.
type Position string

const (
	PositionBefore  Position = "before"
	PositionAfter   Position = "after"
	PositionPrepend Position = "prepend"
	PositionAppend  Position = "append"
)

// Normalize maps unknown or empty positions to append.
func (p Position) Normalize() Position {
	switch p {
	case PositionBefore, PositionAfter, PositionPrepend:
		return p
	}
	return PositionAppend
}

// Configuration is one rule bundle. Configurations are treated as immutable
// once decoded; a fresh fetch replaces the whole set.
type Configuration struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Datasource *Datasource    `json:"datasource,omitempty" yaml:"datasource,omitempty"`
	Actions    []Action       `json:"actions" yaml:"actions"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Label returns the name, falling back to the id.
func (c *Configuration) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Datasource describes which pages a configuration targets. Only entries
// whose value is true count as a match.
type Datasource struct {
	Hosts map[string]bool `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	URLs  map[string]bool `json:"urls,omitempty" yaml:"urls,omitempty"`
	Pages map[string]bool `json:"pages,omitempty" yaml:"pages,omitempty"`
}

// UnmarshalJSON decodes the datasource leniently. Page-reference documents
// share the /all payload and carry string values under the same keys; any
// value other than true is read as false rather than failing the list.
func (d *Datasource) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.fill(raw)
	return nil
}

// UnmarshalYAML applies the same leniency to YAML documents.
func (d *Datasource) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d.fill(raw)
	return nil
}

func (d *Datasource) fill(raw any) {
	m, _ := raw.(map[string]any)
	d.Hosts = flags(m["hosts"])
	d.URLs = flags(m["urls"])
	d.Pages = flags(m["pages"])
}

func flags(v any) map[string]bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, val := range m {
		b, _ := val.(bool)
		out[k] = b
	}
	return out
}

// Action is one declarative DOM mutation.
type Action struct {
	Type       Kind       `json:"type" yaml:"type"`
	Selector   string     `json:"selector,omitempty" yaml:"selector,omitempty"`
	Target     string     `json:"target,omitempty" yaml:"target,omitempty"`
	Element    string     `json:"element,omitempty" yaml:"element,omitempty"`
	NewElement string     `json:"newElement,omitempty" yaml:"newElement,omitempty"`
	Position   Position   `json:"position,omitempty" yaml:"position,omitempty"`
	OldValue   string     `json:"oldValue,omitempty" yaml:"oldValue,omitempty"`
	NewValue   string     `json:"newValue,omitempty" yaml:"newValue,omitempty"`
	Priority   Priority   `json:"priority,omitzero" yaml:"priority,omitempty"`
	Condition  *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Describe returns the selector-ish field used in logs: selector, then target.
func (a *Action) Describe() string {
	if a.Selector != "" {
		return a.Selector
	}
	return a.Target
}

// Condition is a conjunctive predicate bag. Nil maps and nil pointers impose
// no constraint.
type Condition struct {
	URL               string            `json:"url,omitempty" yaml:"url,omitempty"`
	Host              string            `json:"host,omitempty" yaml:"host,omitempty"`
	UserAgentIncludes string            `json:"userAgentIncludes,omitempty" yaml:"userAgentIncludes,omitempty"`
	IsLoggedIn        *bool             `json:"isLoggedIn,omitempty" yaml:"isLoggedIn,omitempty"`
	QueryParam        map[string]string `json:"queryParam,omitempty" yaml:"queryParam,omitempty"`
	LocalStorage      map[string]string `json:"localStorage,omitempty" yaml:"localStorage,omitempty"`
	Cookie            map[string]string `json:"cookie,omitempty" yaml:"cookie,omitempty"`
}

// Decode parses a JSON array of configurations.
func Decode(data []byte) ([]Configuration, error) {
	var configs []Configuration
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("rule: decode: %w", err)
	}
	return configs, nil
}

// Encode serialises configurations as a JSON array.
func Encode(configs []Configuration) ([]byte, error) {
	if configs == nil {
		configs = []Configuration{}
	}
	data, err := json.Marshal(configs)
	if err != nil {
		return nil, fmt.Errorf("rule: encode: %w", err)
	}
	return data, nil
}
