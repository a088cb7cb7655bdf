package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a schema document
type File struct {
	Models []*Model `yaml:"models"`
}

// Load reads a YAML (or JSON) schema file
func Load(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds the model metadata from a YAML (or JSON) document
func Parse(data []byte) (*Meta, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("schema declares no models")
	}
	return NewMeta(file.Models)
}
