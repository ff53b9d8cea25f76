package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProperties reads a flat YAML properties file into the raw key/value
// form consumed by Resolve. Scalar values are rendered with %v, so integers
// and booleans keep their literal spelling.
func LoadProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading properties file %q: %w", path, err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, &ConfigurationError{Key: path, Err: err}
	}

	raw := make(map[string]string, len(parsed))
	for k, v := range parsed {
		raw[k] = fmt.Sprintf("%v", v)
	}
	return raw, nil
}
