package tool

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateInput checks input against the tool's declared JSON-Schema
// InputSchema before the run controller hands it to a provider. A
// Definition with no InputSchema is treated as unconstrained.
func (d Definition) ValidateInput(input map[string]interface{}) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(d.InputSchema)
	docLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("tool %s: invalid input schema: %w", d.Name, err)
	}
	if !result.Valid() {
		return fmt.Errorf("tool %s: input failed schema validation: %s", d.Name, result.Errors()[0].String())
	}
	return nil
}
