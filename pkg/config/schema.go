package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// GenerateSchema returns the JSON schema of the configuration file, for
// editor completion and CI validation of config.yaml.
func GenerateSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		Mapper:                     schemaMapper,
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "forgefs Configuration"
	schema.Description = "Configuration schema for the forgefs NFS server"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// schemaMapper describes durations the way the file spells them ("30s").
func schemaMapper(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			Description: "Go duration, e.g. 30s or 5m",
		}
	}
	return nil
}
