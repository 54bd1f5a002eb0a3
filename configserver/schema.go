package configserver

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed configuration.schema.json
var schemaJSON []byte

const schemaURL = "https://visionbridge.local/schema/configuration.json"

// ValidationError is a document rejected by the JSON schema.
type ValidationError struct {
	Location string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("configserver: invalid document at %s: %s", e.Location, e.Detail)
	}
	return "configserver: invalid document: " + e.Detail
}

// validator checks incoming documents against the embedded schema. Rule
// documents (configuration, specific) must use boolean datasource flags;
// pages documents map keys to arbitrary config references.
type validator struct {
	rules *jsonschema.Schema
	pages *jsonschema.Schema
}

func newValidator() (*validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("configserver: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("configserver: add schema resource: %w", err)
	}
	rules, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("configserver: compile schema: %w", err)
	}
	pages, err := c.Compile(schemaURL + "#/$defs/document")
	if err != nil {
		return nil, fmt.Errorf("configserver: compile pages schema: %w", err)
	}
	return &validator{rules: rules, pages: pages}, nil
}

// validate checks raw JSON bytes against the schema of family f.
func (v *validator) validate(f Family, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Detail: "malformed JSON: " + err.Error()}
	}
	sch := v.rules
	if f == FamilyPages {
		sch = v.pages
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("configserver: schema validation: %w", err)
	}
	leaf := deepest(ve)
	return &ValidationError{Location: "/" + strings.Join(leaf.InstanceLocation, "/"), Detail: leaf.Error()}
}

// deepest returns the cause with the longest instance location.
func deepest(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	best := ve
	for _, c := range ve.Causes {
		if d := deepest(c); len(d.InstanceLocation) > len(best.InstanceLocation) {
			best = d
		}
	}
	return best
}
