package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders the JSON schema of the configuration file.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "json",
		RequiredFromJSONSchemaTags: true,
	}

	schema := r.Reflect(&Config{})
	schema.Title = "Payment reconciler configuration"

	return json.MarshalIndent(schema, "", "  ")
}
