package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks args against tool's declared JSON Schema,
// compiling the schema fresh each call (schemas are small and static per
// tool; callers that validate hot paths repeatedly should cache the
// compiled *jsonschema.Schema themselves via CompileSchema).
func ValidateArguments(t Tool, args map[string]interface{}) error {
	schema, err := CompileSchema(t.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", t.Name(), err)
	}
	if err := schema.Validate(toJSONValue(args)); err != nil {
		return fmt.Errorf("tool %s: argument validation failed: %w", t.Name(), err)
	}
	return nil
}

// CompileSchema compiles a raw JSON-Schema-shaped map into a reusable
// *jsonschema.Schema.
func CompileSchema(raw map[string]interface{}) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	const resourceID = "inline://tool-schema.json"
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, err
	}
	return c.Compile(resourceID)
}

// toJSONValue round-trips args through JSON so numeric/struct values match
// what jsonschema.Validate expects (plain map[string]interface{}/float64,
// not typed Go structs).
func toJSONValue(args map[string]interface{}) interface{} {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return args
	}
	return v
}
