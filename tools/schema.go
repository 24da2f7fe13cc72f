package tools

import (
	"bytes"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// parseSchema compiles a raw JSON schema document, used to validate a tool's
// invocation schema at registration time and, via ValidateParams, a tool
// call's params. Registry.Execute does not call ValidateParams.
func parseSchema(schema []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	const resourceURL = "mem://tool-schema.json"
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}

// ValidateParams validates params against a tool's invocation schema.
// Returns nil when the tool carries no schema.
func ValidateParams(schema []byte, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := parseSchema(schema)
	if err != nil {
		return err
	}
	return sch.Validate(params)
}
