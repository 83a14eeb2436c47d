package bankcode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Banks []Bank `yaml:"banks"`
}

// LoadFile reads a YAML bank table.
func LoadFile(path string) ([]Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bank file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML bank table and checks every row has a canonical code.
func Parse(data []byte) ([]Bank, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse bank file: %w", err)
	}

	seen := make(map[string]bool, len(f.Banks))
	for i, b := range f.Banks {
		if !IsCanonical(b.Code) {
			return nil, fmt.Errorf("bank #%d: code %q is not a numeric canonical code", i+1, b.Code)
		}
		if seen[b.Code] {
			return nil, fmt.Errorf("bank #%d: duplicate code %q", i+1, b.Code)
		}
		seen[b.Code] = true

		for provider, code := range b.ProviderCodes {
			if IsCanonical(code) {
				return nil, fmt.Errorf("bank %s: provider %s code %q must be alphabetic", b.Code, provider, code)
			}
		}
	}
	return f.Banks, nil
}
