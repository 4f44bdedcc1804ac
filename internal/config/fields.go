package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFieldsFile struct {
	Fields []string `yaml:"fields"`
}

// LoadSeedFields reads the YAML field registry that seeds structured
// extraction. An empty path means no seeds.
func LoadSeedFields(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed fields: %w", err)
	}
	var parsed seedFieldsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse seed fields: %w", err)
	}
	return parsed.Fields, nil
}
