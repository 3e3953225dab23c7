package erp

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed orders.schema.json
var ordersSchema string

func compileOrdersSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("orders.schema.json", strings.NewReader(ordersSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("orders.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateBatch checks a raw order list against the embedded schema. A batch
// that fails validation is rejected whole; the caller keeps its previous
// snapshot.
func validateBatch(schema *jsonschema.Schema, list json.RawMessage) error {
	var v any
	if err := json.Unmarshal(list, &v); err != nil {
		return fmt.Errorf("unmarshal list: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("batch does not match schema: %w", err)
	}
	return nil
}
