package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalogue is the on-disk list of custom formats.
//
//	formats:
//	  - name: percentage
//	    base: number
//	    rule: typed >= 0.0 && typed <= 100.0
type Catalogue struct {
	Formats []FormatDefinition `yaml:"formats"`
}

// FormatDefinition is one catalogue entry
type FormatDefinition struct {
	Name string `yaml:"name"`
	Base string `yaml:"base"`
	Rule string `yaml:"rule"`
}

// ParseCatalogue decodes a YAML catalogue
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse format catalogue: %w", err)
	}
	return &c, nil
}

// LoadFormats reads the catalogue at path and registers its formats with v.
// It returns the number of registered formats.
func LoadFormats(v *Validator, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read format catalogue: %w", err)
	}

	c, err := ParseCatalogue(data)
	if err != nil {
		return 0, err
	}

	for i, def := range c.Formats {
		if err := v.Register(def.Name, def.Base, def.Rule); err != nil {
			return i, fmt.Errorf("format catalogue entry %d: %w", i, err)
		}
	}
	return len(c.Formats), nil
}
