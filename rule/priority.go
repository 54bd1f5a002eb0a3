package rule

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Priority is an optional numeric rank. Upstream producers are loose about
// its type, so anything that is not a number decodes as unset.
type Priority struct {
	value float64
	set   bool
}

// NewPriority returns a set priority.
func NewPriority(v float64) Priority { return Priority{value: v, set: true} }

// Value returns the numeric rank; unset priorities rank as negative infinity.
func (p Priority) Value() float64 {
	if !p.set {
		return math.Inf(-1)
	}
	return p.value
}

// IsSet reports whether a numeric priority was supplied.
func (p Priority) IsSet() bool { return p.set }

// IsZero lets encoders omit unset priorities.
func (p Priority) IsZero() bool { return !p.set }

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.set {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	*p = Priority{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == 'n' || data[0] == '"' || data[0] == '{' || data[0] == '[' || data[0] == 't' || data[0] == 'f' {
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil
	}
	*p = NewPriority(v)
	return nil
}

func (p Priority) MarshalYAML() (any, error) {
	if !p.set {
		return nil, nil
	}
	return p.value, nil
}

func (p *Priority) UnmarshalYAML(node *yaml.Node) error {
	*p = Priority{}
	if node.Kind != yaml.ScalarNode {
		return nil
	}
	if node.Tag != "!!int" && node.Tag != "!!float" {
		return nil
	}
	var v float64
	if err := node.Decode(&v); err != nil {
		return nil
	}
	*p = NewPriority(v)
	return nil
}
