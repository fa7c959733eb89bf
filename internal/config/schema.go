package config

import (
	_ "embed"
	"fmt"
	"sync"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Embed the schema file content directly into the compiled binary.
//
//go:embed flowstate_schema_v1.0.0.json
var schemaV1Bytes []byte

var (
	schemaV1Loader gojsonschema.JSONLoader
	schemaV1       *gojsonschema.Schema
	schemaOnce     sync.Once
	schemaErr      error
)

// loadSchema compiles the embedded schema thread-safely, only once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = flowerrors.NewConfigError("embedded schema 'flowstate_schema_v1.0.0.json' is empty or not found", nil)
			return
		}
		schemaV1Loader = gojsonschema.NewBytesLoader(schemaV1Bytes)
		schemaV1, schemaErr = gojsonschema.NewSchema(schemaV1Loader)
		if schemaErr != nil {
			schemaErr = flowerrors.NewConfigError("failed to compile embedded schema 'flowstate_schema_v1.0.0.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates the given YAML document bytes against the
// embedded v1.0.0 schema, handling the YAML-to-JSON conversion the validator
// requires.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	// gojsonschema works with JSON-like Go data, so parse the YAML into a
	// generic structure first. Strictness is not needed here; unknown fields
	// are caught by the schema and by the strict unmarshal in Load.
	var jsonData interface{}
	if err := yaml.Unmarshal(documentYAML, &jsonData); err != nil {
		return flowerrors.NewConfigError("failed to parse config YAML for schema validation", err)
	}

	docLoader := gojsonschema.NewGoLoader(jsonData)
	result, err := schema.Validate(docLoader)
	if err != nil {
		return flowerrors.NewConfigError("schema validation process failed", err)
	}

	if !result.Valid() {
		errMsg := "config failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return flowerrors.NewValidationError(errMsg, nil)
	}

	return nil
}
