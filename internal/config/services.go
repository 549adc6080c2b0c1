package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

// ServicesFile is the parsed YAML structure for probe definitions:
// services: [{name, endpoints, auth, ...}]
type ServicesFile struct {
	Services []vendor.Definition `yaml:"services"`
}

// LoadServicesFile parses a YAML services file from the given path.
// Returns nil if path is empty (no services file).
func LoadServicesFile(path string) ([]vendor.Definition, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	return ParseServices(data)
}

// ParseServices decodes and validates a services document. Unknown fields
// are rejected.
func ParseServices(data []byte) ([]vendor.Definition, error) {
	var sf ServicesFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}

	if err := validateServices(sf.Services); err != nil {
		return nil, err
	}

	return sf.Services, nil
}

// validateServices ensures all definitions are valid and uniquely named.
func validateServices(defs []vendor.Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("services file contains no services")
	}

	seen := make(map[string]bool)

	for i, def := range defs {
		if def.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}

		if err := def.Validate(); err != nil {
			return err
		}

		if seen[def.Name] {
			return fmt.Errorf("service %q: duplicate name", def.Name)
		}
		seen[def.Name] = true

		for j, endpoint := range def.Endpoints {
			if !strings.Contains(endpoint, "${") {
				if err := validateURL(endpoint, fmt.Sprintf("service %q endpoint %d", def.Name, j)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
