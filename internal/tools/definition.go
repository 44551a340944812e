// Package tools holds the static catalog of deterministic analysis tools, the
// strategy validator, and the uniform invocation wrapper that records
// provenance and persists artifacts.
package tools

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Implementation status of a catalog entry.
const (
	StatusImplemented = "implemented"
	StatusStub        = "stub"
	StatusPlanned     = "planned"
	StatusDeprecated  = "deprecated"
)

// Definition describes one analysis tool. Catalog data is read-only at
// runtime.
type Definition struct {
	Name         string   `yaml:"name" json:"name"`
	Status       string   `yaml:"status" json:"status"`
	Category     string   `yaml:"category" json:"category"`
	ArtifactType string   `yaml:"artifact_type" json:"artifact_type"`
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Description  string   `yaml:"description" json:"description"`
}

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Tools []Definition `yaml:"tools"`
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() ([]Definition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(catalogYAML, &f); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	if len(f.Tools) == 0 {
		return nil, fmt.Errorf("tool catalog is empty")
	}
	return f.Tools, nil
}
