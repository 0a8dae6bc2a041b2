package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type toolHandler func(ctx context.Context, args map[string]any) (string, map[string]any, error)

// tool is one catalog entry. Mutating tools record operation events and
// return a receipt on both success and failure; Entity names the entity type
// used in failure receipts.
type tool struct {
	Name        string
	Description string
	Entity      string
	Mutating    bool
	InputSchema json.RawMessage

	schema  *jsonschema.Schema
	handler toolHandler
}

// validate checks arguments against the tool's compiled input schema.
func (t *tool) validate(args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	// jsonschema.UnmarshalJSON gives the number representation the validator
	// expects.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return t.schema.Validate(doc)
}

// catalog renders the static tools/list payload.
func (s *Server) catalog() []map[string]any {
	out := make([]map[string]any, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return out
}

// compileTools compiles every tool's input schema, failing loudly on any
// catalog mistake at startup rather than on first call.
func compileTools(tools []*tool) error {
	for _, t := range tools {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(t.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %s: unmarshal schema: %w", t.Name, err)
		}
		c := jsonschema.NewCompiler()
		resource := t.Name + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tool %s: add schema resource: %w", t.Name, err)
		}
		t.schema, err = c.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", t.Name, err)
		}
	}
	return nil
}

// schemaJSON is a shorthand for writing inputSchema literals.
func schemaJSON(properties string, required ...string) json.RawMessage {
	req := "[]"
	if len(required) > 0 {
		raw, _ := json.Marshal(required)
		req = string(raw)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"type":"object","properties":{%s},"required":%s,"additionalProperties":true}`,
		properties, req))
}
