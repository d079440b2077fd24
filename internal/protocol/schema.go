package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://nightroad.app/schemas/"

// Validator checks action requests and world templates against the embedded
// JSON schemas.
type Validator struct {
	action   *jsonschema.Schema
	template *jsonschema.Schema
	payloads map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}

	v := &Validator{payloads: map[string]*jsonschema.Schema{}}
	if v.action, err = c.Compile(schemaBaseURL + "action.schema.json"); err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	if v.template, err = c.Compile(schemaBaseURL + "template.schema.json"); err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	for _, name := range Actions {
		s, err := c.Compile(schemaBaseURL + "payload." + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("compile %s payload schema: %w", name, err)
		}
		v.payloads[name] = s
	}
	return v, nil
}

// DecodeAction parses and validates an action envelope. The action name is
// not checked against the vocabulary here.
func (v *Validator) DecodeAction(raw []byte) (ActionReq, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ActionReq{}, fmt.Errorf("malformed json: %w", err)
	}
	if err := v.action.Validate(doc); err != nil {
		return ActionReq{}, fmt.Errorf("invalid action request: %s", flatten(err))
	}
	var req ActionReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return ActionReq{}, fmt.Errorf("malformed action request: %w", err)
	}
	return req, nil
}

// KnownAction reports whether name is part of the action vocabulary.
func (v *Validator) KnownAction(name string) bool {
	_, ok := v.payloads[name]
	return ok
}

// ValidatePayload checks the payload of a known action. An absent or null
// payload is validated as an empty object.
func (v *Validator) ValidatePayload(action string, payload json.RawMessage) error {
	s, ok := v.payloads[action]
	if !ok {
		return fmt.Errorf("unsupported action: %s", action)
	}
	var doc any = map[string]any{}
	if len(bytes.TrimSpace(payload)) > 0 && string(bytes.TrimSpace(payload)) != "null" {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("malformed payload: %w", err)
		}
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s payload: %s", action, flatten(err))
	}
	return nil
}

// ValidateTemplate checks a generic JSON document against the world template
// schema.
func (v *Validator) ValidateTemplate(doc any) error {
	if err := v.template.Validate(doc); err != nil {
		return fmt.Errorf("invalid template: %s", flatten(err))
	}
	return nil
}

// flatten turns a schema validation error into a single line naming the
// innermost failing locations.
func flatten(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}
