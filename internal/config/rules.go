package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules carries the operator-tunable tables: the category-specificity
// ranking used to break category ties, and extra vocabulary for the
// quantity/preparation extractors. All fields are optional; zero values
// mean "use the built-in defaults".
type Rules struct {
	CategorySpecificity map[string]int `yaml:"category_specificity"`
	ExtraUnits          []string       `yaml:"extra_units"`
	ExtraPreparations   []string       `yaml:"extra_preparations"`
}

// LoadRules reads the YAML rules file. An empty path or a missing file
// yields empty rules, not an error; a malformed file is an error.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Rules{}, nil
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("malformed rules file %s: %w", path, err)
	}
	for cat, rank := range rules.CategorySpecificity {
		if rank < 0 {
			return nil, fmt.Errorf("negative specificity rank for category %q", cat)
		}
	}
	return &rules, nil
}
