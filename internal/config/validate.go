// CUE schema validation code
package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

// SchemaDefinition is the definition in the schema file configs must satisfy.
const SchemaDefinition = "#Radar"

// ValidateWithCue validates a YAML configuration file using a CUE schema file.
func ValidateWithCue(configFile, cueFile string) error {
	yamlBytes, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("cannot read YAML config: %w", err)
	}
	schemaBytes, err := os.ReadFile(cueFile)
	if err != nil {
		return fmt.Errorf("cannot read CUE schema: %w", err)
	}
	return validateBytes(yamlBytes, schemaBytes)
}

func validateBytes(yamlBytes, schemaBytes []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaBytes)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema compile failed: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(SchemaDefinition))
	if !def.Exists() {
		return fmt.Errorf("schema has no %s definition", SchemaDefinition)
	}
	if err := yaml.Validate(yamlBytes, def); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
