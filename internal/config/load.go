package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint defines the SemVer major version loaded
// configs must satisfy.
const SupportedSchemaVersionConstraint = "v1"

// Load reads the given YAML bytes, unmarshals into a Config struct, validates
// against the embedded JSON schema, checks schema version compatibility, and
// performs logical validation.
func Load(configYAML []byte, filePathHint string) (*Config, error) {
	if len(configYAML) == 0 {
		return nil, flowerrors.NewConfigError("config content cannot be empty", nil)
	}

	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("config '%s' failed schema validation", filePathHint), err)
	}

	var cfg Config
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("failed to parse config YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	if cfg.SchemaVersion == "" {
		return nil, flowerrors.NewValidationError(fmt.Sprintf("config '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	cfgSemVer := cfg.SchemaVersion
	if !strings.HasPrefix(cfgSemVer, "v") {
		cfgSemVer = "v" + cfgSemVer
	}
	if !semver.IsValid(cfgSemVer) {
		return nil, flowerrors.NewValidationError(fmt.Sprintf("config '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, cfg.SchemaVersion), nil)
	}
	if semver.Major(cfgSemVer) != SupportedSchemaVersionConstraint {
		return nil, flowerrors.NewValidationError(
			fmt.Sprintf("config '%s' schemaVersion '%s' is not compatible with requirement '%s'",
				filePathHint, cfg.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	validationErrs := ValidateStructure(&cfg)
	if len(validationErrs) > 0 {
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("config '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, flowerrors.NewValidationError(combinedMessage, validationErrs[0])
	}

	return &cfg, nil
}

// LoadFromFile is a convenience function to read a config from disk.
func LoadFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, flowerrors.NewConfigError("config file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	yamlFile, err := os.ReadFile(absPath)
	if err != nil {
		return nil, flowerrors.NewConfigError(fmt.Sprintf("failed to read config file '%s'", absPath), err)
	}
	return Load(yamlFile, absPath)
}

// yamlUnmarshalStrict disallows unknown fields so typos in config files are
// caught early.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
