package assertions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/promptgrid/promptgrid/internal/models"
)

// jsonSchemaAssertion validates that the output is JSON matching a schema.
type jsonSchemaAssertion struct {
	schema *jsonschema.Schema
}

func newJSONSchemaAssertion(schemaMap map[string]any) (*jsonSchemaAssertion, error) {
	if schemaMap == nil {
		return nil, errors.New("json-schema assertion needs 'schema'")
	}

	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("json-schema assertion: serialize schema: %w", err)
	}
	var schemaValue any
	if err := json.Unmarshal(raw, &schemaValue); err != nil {
		return nil, fmt.Errorf("json-schema assertion: parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaValue); err != nil {
		return nil, fmt.Errorf("json-schema assertion: add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("json-schema assertion: compile schema: %w", err)
	}

	return &jsonSchemaAssertion{schema: schema}, nil
}

func (a *jsonSchemaAssertion) Name() string { return "json-schema" }
func (a *jsonSchemaAssertion) Kind() Kind   { return KindJSONSchema }

func (a *jsonSchemaAssertion) Assert(_ context.Context, in *CellInput) (*models.AssertionResult, error) {
	var value any
	if err := json.Unmarshal([]byte(in.Output), &value); err != nil {
		return &models.AssertionResult{
			Pass:    false,
			Message: fmt.Sprintf("output is not valid JSON: %v", err),
		}, nil
	}

	if err := a.schema.Validate(value); err != nil {
		return &models.AssertionResult{
			Pass:    false,
			Message: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}
	return &models.AssertionResult{Pass: true}, nil
}
