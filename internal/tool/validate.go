package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	agenterrors "hyperagent/internal/errors"
)

// ArgsValidator validates tool arguments against the tool's declared
// JSON schema, compiled once at registration.
type ArgsValidator struct {
	name   string
	schema *jsonschema.Schema
}

// CompileArgs compiles an argument schema. A nil or empty schema
// yields a validator that accepts anything.
func CompileArgs(name string, raw json.RawMessage) (*ArgsValidator, error) {
	if len(raw) == 0 {
		return &ArgsValidator{name: name}, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resource := "inline://" + name + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ArgsValidator{name: name, schema: schema}, nil
}

// Validate checks args against the schema. Failures are tagged as
// input errors so the loop reports them without retrying.
func (v *ArgsValidator) Validate(args map[string]any) error {
	if v.schema == nil {
		return nil
	}

	// Round-trip through JSON so numeric types match what the schema
	// library expects regardless of how the arguments were decoded.
	encoded, err := json.Marshal(args)
	if err != nil {
		return agenterrors.Input(err, fmt.Sprintf("arguments for %s are not serialisable", v.name))
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return agenterrors.Input(err, fmt.Sprintf("arguments for %s are not valid JSON", v.name))
	}

	if err := v.schema.Validate(instance); err != nil {
		return agenterrors.Input(err, fmt.Sprintf("invalid arguments for %s: %v", v.name, err))
	}
	return nil
}
