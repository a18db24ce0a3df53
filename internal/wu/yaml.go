package wu

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a WU YAML file. Grounded on config.Load
// (internal/config/config.go).
func Load(path string) (*WU, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading WU file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a WU.
func Parse(data []byte) (*WU, error) {
	var w WU
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing WU YAML: %w", err)
	}
	return &w, nil
}

// Marshal encodes a WU back to YAML bytes.
func Marshal(w *WU) ([]byte, error) {
	return yaml.Marshal(w)
}

// Save writes a WU to its canonical YAML file path.
func Save(path string, w *WU) error {
	data, err := Marshal(w)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
